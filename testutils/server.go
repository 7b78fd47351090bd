package testutils

import (
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/distcodep7/conference/controller"
)

// StartTestServer runs a relay controller on a free loopback port for the
// duration of the test and returns its address.
func StartTestServer(t *testing.T) (*controller.Server, string) {
	t.Helper()

	srv := controller.NewServer(log.NewNopLogger(), nil)
	grpcServer, lis, err := controller.Listen("127.0.0.1:0", srv)
	if err != nil {
		t.Fatalf("failed to start controller: %v", err)
	}
	t.Cleanup(grpcServer.Stop)

	return srv, lis.Addr().String()
}
