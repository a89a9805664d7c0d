// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hardware

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintOf(t *testing.T) {
	a := fingerprintOf("aa:bb:cc:dd:ee:ff", "host-1", 8, "linux", "amd64")
	b := fingerprintOf("aa:bb:cc:dd:ee:ff", "host-1", 8, "linux", "amd64")
	c := fingerprintOf("aa:bb:cc:dd:ee:ff", "host-1", 16, "linux", "amd64")

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestProviderFingerprintStable(t *testing.T) {
	ctx := t.Context()
	p := NewProvider()

	first := p.Fingerprint(ctx)
	assert.Len(t, first, 64)
	assert.Equal(t, first, p.Fingerprint(ctx))
	assert.Equal(t, first, NewProvider().Fingerprint(ctx))
}

func TestSystemInfo(t *testing.T) {
	info := NewProvider().SystemInfo(t.Context())

	assert.NotEmpty(t, info.OSPlatform)
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCount)

	raw, err := json.Marshal(info)
	require.NoError(t, err)

	var keys map[string]any
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"os_platform", "os_release", "os_version", "cpu_count", "total_memory_gb", "hostname", "architecture"} {
		assert.Contains(t, keys, k)
	}
}

func TestStorageUsedGB(t *testing.T) {
	used, err := StorageUsedGB(t.Context(), t.TempDir())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, 0.0)

	_, err = StorageUsedGB(t.Context(), "/definitely/not/a/real/path")
	assert.Error(t, err)
}

func TestBytesToGB(t *testing.T) {
	assert.Equal(t, 1.0, bytesToGB(1<<30))
	assert.Equal(t, 1.5, bytesToGB(3<<29))
	assert.Equal(t, 0.0, bytesToGB(0))
}

func TestPickMAC(t *testing.T) {
	hw := func(s string) net.HardwareAddr {
		mac, err := net.ParseMAC(s)
		require.NoError(t, err)
		return mac
	}

	eth0 := net.Interface{Index: 2, Name: "eth0", HardwareAddr: hw("aa:aa:aa:aa:aa:01"), Flags: net.FlagUp}
	eth1 := net.Interface{Index: 3, Name: "eth1", HardwareAddr: hw("aa:aa:aa:aa:aa:02"), Flags: net.FlagUp}
	lo := net.Interface{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	docker0 := net.Interface{Index: 4, Name: "docker0", HardwareAddr: hw("02:42:00:00:00:01"), Flags: net.FlagUp}
	tun := net.Interface{Index: 5, Name: "tun0"}

	tests := []struct {
		name   string
		ifaces []net.Interface
		want   string
	}{
		{name: "lowest_name_wins", ifaces: []net.Interface{lo, eth1, eth0}, want: "aa:aa:aa:aa:aa:01"},
		{name: "ignores_link_state", ifaces: []net.Interface{lo, {Index: 2, Name: "eth0", HardwareAddr: eth0.HardwareAddr}, eth1}, want: "aa:aa:aa:aa:aa:01"},
		{name: "new_interface_sorted_by_name", ifaces: []net.Interface{docker0, eth0}, want: "02:42:00:00:00:01"},
		{name: "skips_interfaces_without_address", ifaces: []net.Interface{tun, eth1}, want: "aa:aa:aa:aa:aa:02"},
		{name: "nothing_usable", ifaces: []net.Interface{lo, tun}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickMAC(tt.ifaces))
		})
	}
}
