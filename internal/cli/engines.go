package cli

import (
	"github.com/hashicorp/go-multierror"

	"github.com/cruciblehq/cruxship/internal/cache"
	"github.com/cruciblehq/cruxship/internal/command"
	"github.com/cruciblehq/cruxship/internal/crex"
	"github.com/cruciblehq/cruxship/internal/engine"
	"github.com/cruciblehq/cruxship/internal/engine/buildx"
	"github.com/cruciblehq/cruxship/internal/engine/local"
	"github.com/cruciblehq/cruxship/internal/runtime"
)

// Connects the engine selected by --engine. The returned function releases
// its connections.
func openEngine() (engine.Engine, func() error, error) {
	switch RootCmd.Engine {
	case local.Name:
		return openLocal()
	default:
		cli, err := buildx.Connect()
		if err != nil {
			return nil, nil, err
		}
		return buildx.New(command.Exec{}, cli), cli.Close, nil
	}
}

// Connects to containerd and, unless --no-cache is set, opens the cache
// store for the local engine.
func openLocal() (engine.Engine, func() error, error) {
	flags := RootCmd.Containerd

	rt, err := runtime.New(flags.Address, flags.Namespace)
	if err != nil {
		return nil, nil, err
	}

	if RootCmd.NoCache {
		return local.New(rt, nil, flags.Platform), rt.Close, nil
	}

	store, err := cache.OpenLocal(cache.LocalOptions{})
	if err != nil {
		rt.Close()
		return nil, nil, err
	}

	closeAll := func() error {
		var result *multierror.Error
		if err := store.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := rt.Close(); err != nil {
			result = multierror.Append(result, crex.Wrap(runtime.ErrRuntime, err))
		}
		return result.ErrorOrNil()
	}

	return local.New(rt, store, flags.Platform), closeAll, nil
}
