package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressSequence(t *testing.T) {
	a := New()

	first, err := a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, "239.0.0.0", first)

	second, err := a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, "239.0.0.1", second)
}

func TestAddressOctetRollover(t *testing.T) {
	a := New()
	a.nextAddr = addrBase | 0x000001ff // 239.0.1.255

	addr, err := a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, "239.0.1.255", addr)

	addr, err = a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, "239.0.2.0", addr)
}

func TestReleasedAddressesReusedFIFO(t *testing.T) {
	a := New()
	first, _ := a.AcquireAddress()
	second, _ := a.AcquireAddress()

	a.ReleaseAddress(first)
	a.ReleaseAddress(second)

	got, err := a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestAddressExhaustion(t *testing.T) {
	a := New()
	a.nextAddr = addrMax

	_, err := a.AcquireAddress()
	require.ErrorIs(t, err, ErrNoMoreAddresses)

	// A reclaimed value is still served after exhaustion.
	a.ReleaseAddress("239.1.2.3")
	got, err := a.AcquireAddress()
	require.NoError(t, err)
	assert.Equal(t, "239.1.2.3", got)
}

func TestReleaseInvalidAddressDropped(t *testing.T) {
	a := New()
	a.ReleaseAddress("10.0.0.1")
	a.ReleaseAddress("not an address")
	a.ReleaseAddress("")

	assert.Empty(t, a.freeAddrs)
}

func TestPortSequenceAndReuse(t *testing.T) {
	a := New()

	first, err := a.AcquirePort()
	require.NoError(t, err)
	assert.Equal(t, 30000, first)

	second, err := a.AcquirePort()
	require.NoError(t, err)
	assert.Equal(t, 30001, second)

	a.ReleasePort(first)
	got, err := a.AcquirePort()
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestPortExhaustion(t *testing.T) {
	a := New()
	a.nextPort = portMax

	_, err := a.AcquirePort()
	require.ErrorIs(t, err, ErrNoMorePorts)
}

func TestReleaseOutOfRangePortDropped(t *testing.T) {
	a := New()
	a.ReleasePort(80)
	a.ReleasePort(70000)
	a.ReleasePort(portMax)

	assert.Empty(t, a.freePorts)
}
