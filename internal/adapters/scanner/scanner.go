// Package scanner runs the external network scanner binary for
// network-scan jobs and condenses its output into the job result.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"watchpost.core/internal/core/domain"
	"watchpost.core/internal/core/ports"
)

// waitDelay bounds how long Wait may block on the scanner's pipes after the
// process is killed; a wedged pipe must not outlive the job's grace period.
const waitDelay = 3 * time.Second

type Invoker struct {
	bin string
}

func New(bin string) *Invoker {
	return &Invoker{bin: bin}
}

func (s *Invoker) Kind() domain.JobKind { return domain.JobKindNetworkScan }

// Invoke runs one scan. The context owns the process lifetime: cancellation
// or deadline kills the scanner itself, not just the wait on it.
func (s *Invoker) Invoke(ctx context.Context, target string, progress func()) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	progress()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.bin, "-oG", "-", target)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", s.bin, msg)
	}
	progress()

	report, err := parseGreppable(stdout.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBadResponse, err)
	}
	report.Target = target

	data, err := json.Marshal(report)
	if err != nil {
		return "", err
	}
	progress()
	return string(data), nil
}

var _ ports.Invoker = (*Invoker)(nil)

// Report is the condensed scan result stored in the cache and handed to
// the shell.
type Report struct {
	Target string `json:"target"`
	Hosts  []Host `json:"hosts"`
}

type Host struct {
	Address  string `json:"address"`
	Hostname string `json:"hostname,omitempty"`
	State    string `json:"state"`
	Ports    []Port `json:"ports,omitempty"`
}

type Port struct {
	Number   int    `json:"number"`
	Protocol string `json:"protocol"`
	Service  string `json:"service,omitempty"`
}

// parseGreppable parses the scanner's greppable output (-oG). Host lines
// look like:
//
//	Host: 192.168.1.1 (router.lan)	Status: Up
//	Host: 192.168.1.1 (router.lan)	Ports: 22/open/tcp//ssh///, 80/open/tcp//http///
func parseGreppable(out string) (*Report, error) {
	hosts := make(map[string]*Host)
	var order []string

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Host:") {
			continue
		}

		fields := strings.SplitN(line, "\t", 2)
		header := strings.Fields(strings.TrimPrefix(fields[0], "Host:"))
		if len(header) == 0 {
			return nil, fmt.Errorf("host line without address: %q", line)
		}
		addr := header[0]

		host, ok := hosts[addr]
		if !ok {
			host = &Host{Address: addr}
			if len(header) > 1 {
				host.Hostname = strings.Trim(header[1], "()")
			}
			hosts[addr] = host
			order = append(order, addr)
		}

		if len(fields) < 2 {
			continue
		}
		rest := strings.TrimSpace(fields[1])
		switch {
		case strings.HasPrefix(rest, "Status:"):
			host.State = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(rest, "Status:")))
		case strings.HasPrefix(rest, "Ports:"):
			ports, err := parsePorts(strings.TrimPrefix(rest, "Ports:"))
			if err != nil {
				return nil, err
			}
			host.Ports = append(host.Ports, ports...)
		}
	}

	report := &Report{}
	for _, addr := range order {
		report.Hosts = append(report.Hosts, *hosts[addr])
	}
	return report, nil
}

// parsePorts parses "22/open/tcp//ssh///, 80/open/tcp//http///"; closed and
// filtered ports are skipped.
func parsePorts(s string) ([]Port, error) {
	var ports []Port
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "/")
		if len(parts) < 5 {
			return nil, fmt.Errorf("unexpected port entry %q", entry)
		}
		if parts[1] != "open" {
			continue
		}
		var number int
		if _, err := fmt.Sscanf(parts[0], "%d", &number); err != nil {
			return nil, fmt.Errorf("unexpected port number %q", parts[0])
		}
		ports = append(ports, Port{
			Number:   number,
			Protocol: parts[2],
			Service:  parts[4],
		})
	}
	return ports, nil
}
