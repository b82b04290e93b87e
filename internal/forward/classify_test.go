package forward

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func dialErr(errno syscall.Errno) error {
	return &url.Error{
		Op:  "Post",
		URL: "http://127.0.0.1:9/raddecs",
		Err: &net.OpError{
			Op:   "dial",
			Net:  "tcp",
			Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9},
			Err:  os.NewSyscallError("connect", errno),
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"refused", dialErr(syscall.ECONNREFUSED), "ECONNREFUSED"},
		{"reset", dialErr(syscall.ECONNRESET), "ECONNRESET"},
		{"host unreachable", dialErr(syscall.EHOSTUNREACH), "EHOSTUNREACH"},
		{"dns not found", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.test", IsNotFound: true}}, "ENOTFOUND"},
		{"dns temporary", &net.DNSError{Err: "server misbehaving", Name: "x", IsTemporary: true}, "EAI_AGAIN"},
		{"timeout", fmt.Errorf("wrapped: %w", timeoutErr{}), "ETIMEDOUT"},
		{"deadline", context.DeadlineExceeded, "ETIMEDOUT"},
		{"eof", &url.Error{Op: "Post", URL: "http://x", Err: io.EOF}, "ECONNRESET"},
		{"unknown authority", fmt.Errorf("tls: %w", x509.UnknownAuthorityError{}), "UNABLE_TO_VERIFY_LEAF_SIGNATURE"},
		{"hostname mismatch", x509.HostnameError{Host: "x"}, "ERR_TLS_CERT_ALTNAME_INVALID"},
		{"plain", errors.New("boom"), "errors_errorstring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestFailedTarget(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9", failedTarget(dialErr(syscall.ECONNREFUSED), "localhost:80"))
	assert.Equal(t, "localhost:80", failedTarget(errors.New("boom"), "localhost:80"))
	assert.Equal(t, "localhost:80", failedTarget(&net.OpError{Op: "dial", Err: &net.DNSError{IsNotFound: true}}, "localhost:80"))
}
