package scanner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"watchpost.core/internal/core/domain"
)

const sampleGreppable = `# Nmap 7.94 scan initiated
Host: 192.168.1.1 (router.lan)	Status: Up
Host: 192.168.1.1 (router.lan)	Ports: 22/open/tcp//ssh///, 80/open/tcp//http///, 443/closed/tcp//https///
Host: 192.168.1.50 ()	Status: Up
Host: 192.168.1.50 ()	Ports: 8080/open/tcp//http-proxy///
# Nmap done at ...
`

func TestParseGreppable(t *testing.T) {
	report, err := parseGreppable(sampleGreppable)
	if err != nil {
		t.Fatalf("parseGreppable: %v", err)
	}
	if len(report.Hosts) != 2 {
		t.Fatalf("hosts = %d, want 2", len(report.Hosts))
	}

	router := report.Hosts[0]
	if router.Address != "192.168.1.1" || router.Hostname != "router.lan" || router.State != "up" {
		t.Errorf("router = %+v", router)
	}
	if len(router.Ports) != 2 {
		t.Fatalf("router ports = %d, want 2 (closed filtered out)", len(router.Ports))
	}
	if router.Ports[0].Number != 22 || router.Ports[0].Service != "ssh" || router.Ports[0].Protocol != "tcp" {
		t.Errorf("port 0 = %+v", router.Ports[0])
	}

	second := report.Hosts[1]
	if second.Address != "192.168.1.50" || second.Hostname != "" {
		t.Errorf("second host = %+v", second)
	}
	if len(second.Ports) != 1 || second.Ports[0].Number != 8080 {
		t.Errorf("second host ports = %+v", second.Ports)
	}
}

func TestParseGreppableEmptyScan(t *testing.T) {
	report, err := parseGreppable("# Nmap done: 0 hosts up\n")
	if err != nil {
		t.Fatalf("parseGreppable: %v", err)
	}
	if len(report.Hosts) != 0 {
		t.Errorf("hosts = %d, want 0", len(report.Hosts))
	}
}

func TestParseGreppableMalformed(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"host without address", "Host:\tStatus: Up\n"},
		{"garbage port entry", "Host: 1.2.3.4 ()\tPorts: not-a-port\n"},
		{"non-numeric port", "Host: 1.2.3.4 ()\tPorts: x/open/tcp//ssh///\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseGreppable(tt.out); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestInvokeRunsBinaryAndReportsProgress(t *testing.T) {
	// echo stands in for the scanner: its output has no Host: lines, which
	// parses as an empty scan.
	inv := New("echo")
	if inv.Kind() != domain.JobKindNetworkScan {
		t.Fatalf("Kind = %s", inv.Kind())
	}

	progress := 0
	result, err := inv.Invoke(context.Background(), "10.0.0.0/30", func() { progress++ })
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(result, `"target":"10.0.0.0/30"`) {
		t.Errorf("result = %s", result)
	}
	if progress < 2 {
		t.Errorf("progress reported %d times, want at least 2", progress)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	inv := New("/nonexistent/scanner-binary")
	_, err := inv.Invoke(context.Background(), "10.0.0.1", func() {})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if errors.Is(err, domain.ErrBadResponse) {
		t.Error("a launch failure is a tool error, not a bad response")
	}
}

func TestBadOutputWrapsErrBadResponse(t *testing.T) {
	_, err := parseGreppable("Host:\tStatus: Up\n")
	if err == nil {
		t.Fatal("expected error")
	}
	// Invoke wraps parse failures in ErrBadResponse; the raw parser reports
	// the offending line.
	if !strings.Contains(err.Error(), "address") {
		t.Errorf("err = %v", err)
	}
}
