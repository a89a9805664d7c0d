// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hardware derives the machine fingerprint and the system facts sent
// with heartbeats.
package hardware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo is the snapshot attached to heartbeats.
type SystemInfo struct {
	OSPlatform    string  `json:"os_platform"`
	OSRelease     string  `json:"os_release"`
	OSVersion     string  `json:"os_version"`
	CPUCount      int     `json:"cpu_count"`
	TotalMemoryGB float64 `json:"total_memory_gb"`
	Hostname      string  `json:"hostname"`
	Architecture  string  `json:"architecture"`
}

type Provider struct {
	once        sync.Once
	fingerprint string
}

func NewProvider() *Provider {
	return &Provider{}
}

// Fingerprint returns a sha256 hex digest of machine level identifiers. It is
// computed once per process and is stable across restarts on the same host.
func (p *Provider) Fingerprint(ctx context.Context) string {
	p.once.Do(func() {
		hostID, err := host.HostIDWithContext(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("Host id unavailable for fingerprint")
		}
		p.fingerprint = fingerprintOf(primaryMAC(), strings.ToLower(hostID), cpuCount(ctx), runtime.GOOS, runtime.GOARCH)
	})
	return p.fingerprint
}

func fingerprintOf(mac, hostID string, cpus int, goos, goarch string) string {
	data := strings.Join([]string{mac, hostID, strconv.Itoa(cpus), goos, goarch}, "|")
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// primaryMAC returns the hardware address of the non-loopback interface
// with the lowest name. Link state is ignored so a NIC going down does not
// change the fingerprint.
func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list network interfaces")
		return ""
	}
	return pickMAC(ifaces)
}

func pickMAC(ifaces []net.Interface) string {
	candidates := make([]net.Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		candidates = append(candidates, iface)
	}
	if len(candidates) == 0 {
		return ""
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0].HardwareAddr.String()
}

func cpuCount(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// SystemInfo collects host facts. Missing values fall back to what the Go
// runtime knows.
func (p *Provider) SystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{
		OSPlatform:   runtime.GOOS,
		CPUCount:     cpuCount(ctx),
		Architecture: runtime.GOARCH,
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info.OSRelease = hi.KernelVersion
		info.OSVersion = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
		info.Hostname = hi.Hostname
		if hi.KernelArch != "" {
			info.Architecture = hi.KernelArch
		}
	} else {
		log.Debug().Err(err).Msg("Host info unavailable")
	}

	if info.Hostname == "" {
		info.Hostname, _ = os.Hostname()
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemoryGB = bytesToGB(vm.Total)
	}

	return info
}

// StorageUsedGB reports the used space of the filesystem holding path.
func StorageUsedGB(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return bytesToGB(usage.Used), nil
}

func bytesToGB(b uint64) float64 {
	return math.Round(float64(b)/(1<<30)*100) / 100
}
