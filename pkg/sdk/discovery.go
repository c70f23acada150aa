package sdk

import (
	"os"

	"github.com/llmos-dev/llmos-actions/internal/engine"
)

// AddrEnv names the environment variable holding a remote registry address.
const AddrEnv = "LLMOS_ACTIONS_ADDR"

// New returns a remote client when addr (or LLMOS_ACTIONS_ADDR) names a
// reachable daemon, and an embedded registry otherwise. The caller does not
// need to care which one it got.
func New(addr string) (ActionService, error) {
	if addr == "" {
		addr = os.Getenv(AddrEnv)
	}
	if addr != "" {
		client, err := Connect(addr)
		if err == nil {
			return client, nil
		}
	}
	return NewLocal(engine.NewRegistry()), nil
}
