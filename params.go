package repbot

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/repbot/drivers"
	"github.com/hubertat/repbot/names"
	"github.com/hubertat/repbot/params"
	"github.com/hubertat/repbot/settle"
)

const defaultParamTimeout = 2 * time.Second

// ParamConfiguration selects the hardware profile.
const ParamConfiguration = "configuration"

// Param is a startup parameter: Key in the session config, RemoteKey in
// the parameter store and the Default used when the lookup fails.
type Param struct {
	Key       string
	RemoteKey string
	Default   string
}

func DefaultParams() []Param {
	return []Param{
		{Key: ParamConfiguration, RemoteKey: "~" + ParamConfiguration, Default: drivers.DefaultProfileName},
	}
}

// resolveParams looks up all params at once. Every key ends up in the
// returned config, with its default when the lookup did not succeed.
func resolveParams(ctx context.Context, node string, store params.Store, declared []Param, timeout time.Duration, logger *log.Logger) map[string]string {
	config := make(map[string]string, len(declared))
	if store == nil {
		for _, p := range declared {
			config[p.Key] = p.Default
		}
		return config
	}
	if timeout <= 0 {
		timeout = defaultParamTimeout
	}

	tasks := make([]settle.Task[string], len(declared))
	for i, p := range declared {
		remote := names.Resolve(node, p.RemoteKey, nil)
		tasks[i] = func(ctx context.Context) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return store.Get(ctx, remote)
		}
	}

	for i, result := range settle.All(ctx, tasks...) {
		p := declared[i]
		if result.Status == settle.Rejected {
			logger.Info("parameter not retrieved, using default", "key", p.Key, "default", p.Default, "err", result.Err)
			config[p.Key] = p.Default
			continue
		}
		logger.Debug("parameter retrieved", "key", p.Key, "value", result.Value)
		config[p.Key] = result.Value
	}
	return config
}
