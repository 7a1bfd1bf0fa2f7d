package mikrotik

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SystemResource is /system/resource
type SystemResource struct {
	Uptime       string `json:"uptime"`
	Version      string `json:"version"`
	BuildTime    string `json:"build_time"`
	FreeMemory   int64  `json:"free_memory"`
	TotalMemory  int64  `json:"total_memory"`
	CPUCount     int    `json:"cpu_count"`
	CPULoad      int    `json:"cpu_load"`
	FreeHDD      int64  `json:"free_hdd"`
	TotalHDD     int64  `json:"total_hdd"`
	Architecture string `json:"architecture"`
	BoardName    string `json:"board_name"`
	Platform     string `json:"platform"`
}

// Identity returns /system/identity name
func (rc *RouterClient) Identity(ctx context.Context) (string, error) {
	rows, err := rc.Run(ctx, "/system/identity/print")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("identity not found")
	}
	return rows[0]["name"], nil
}

// Resource returns CPU, memory and version data
func (rc *RouterClient) Resource(ctx context.Context) (*SystemResource, error) {
	rows, err := rc.Run(ctx, "/system/resource/print")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no resource data")
	}

	r := rows[0]
	return &SystemResource{
		Uptime:       r["uptime"],
		Version:      r["version"],
		BuildTime:    r["build-time"],
		FreeMemory:   parseInt64(r["free-memory"]),
		TotalMemory:  parseInt64(r["total-memory"]),
		CPUCount:     parseInt(r["cpu-count"]),
		CPULoad:      parseInt(r["cpu-load"]),
		FreeHDD:      parseInt64(r["free-hdd-space"]),
		TotalHDD:     parseInt64(r["total-hdd-space"]),
		Architecture: r["architecture-name"],
		BoardName:    r["board-name"],
		Platform:     r["platform"],
	}, nil
}

var durationUnits = map[string]time.Duration{
	"w":  7 * 24 * time.Hour,
	"d":  24 * time.Hour,
	"h":  time.Hour,
	"m":  time.Minute,
	"s":  time.Second,
	"ms": time.Millisecond,
}

// ParseDuration reads RouterOS durations: "1w2d3h4m5s", "3h", "30d" and the
// older "1d02:03:04" clock suffix. A bare number counts seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "none" || s == "unlimited" {
		return 0, nil
	}

	var total time.Duration
	rest := s

	// Optional trailing hh:mm:ss
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		start := i
		for start > 0 && rest[start-1] >= '0' && rest[start-1] <= '9' {
			start--
		}
		parts := strings.Split(rest[start:], ":")
		if len(parts) != 3 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
			n, err := strconv.Atoi(parts[i])
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			total += time.Duration(n) * unit
		}
		rest = rest[:start]
	}

	if n, err := strconv.Atoi(rest); err == nil {
		return total + time.Duration(n)*time.Second, nil
	}

	for len(rest) > 0 {
		i := 0
		for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, _ := strconv.Atoi(rest[:i])
		rest = rest[i:]

		j := 0
		for j < len(rest) && rest[j] >= 'a' && rest[j] <= 'z' {
			j++
		}
		unit, ok := durationUnits[rest[:j]]
		if !ok {
			return 0, fmt.Errorf("invalid duration unit in %q", s)
		}
		total += time.Duration(n) * unit
		rest = rest[j:]
	}
	return total, nil
}

// FormatDuration renders d the way RouterOS 7 prints it, e.g. "1d2h3m".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)

	var b strings.Builder
	for _, u := range []struct {
		suffix string
		unit   time.Duration
	}{
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
	} {
		if n := d / u.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			d -= n * u.unit
		}
	}
	return b.String()
}
