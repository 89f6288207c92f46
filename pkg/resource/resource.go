// Package resource implements spec.md §4.7's resource-level orchestration:
// apply one action (create, update, remove) against a named resource,
// dispatching its sources and reconciling orphaned ones afterward.
package resource

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/cuemby/fetch/pkg/fetcherrors"
	"github.com/cuemby/fetch/pkg/log"
	"github.com/cuemby/fetch/pkg/metrics"
	"github.com/cuemby/fetch/pkg/platform"
	"github.com/cuemby/fetch/pkg/source"
	"github.com/cuemby/fetch/pkg/store"
	"github.com/cuemby/fetch/pkg/types"
)

// Apply performs op against a named resource. For ActionDownload/
// ActionExtract/ActionInstall this is a create-or-reapply: it refuses an
// already-existing resource unless force is set. For ActionUpdate the
// resource must already exist; its originally stored action is re-run
// with update=true. For ActionRemove the resource must already exist; its
// destinations and sources are deleted from disk and the store, then the
// resource row itself.
func Apply(ctx context.Context, st store.Store, client *http.Client, destRoot, taskID, name string, op types.Action, arguments string, force bool) error {
	logger := log.WithResource(taskID, name)

	switch op {
	case types.ActionDownload, types.ActionExtract, types.ActionInstall:
		existing, err := st.FindResource(name)
		if err != nil {
			return fmt.Errorf("look up resource %q: %w", name, err)
		}
		if existing != nil && !force {
			return fmt.Errorf("resource %q already exists: %w", name, fetcherrors.ErrAlreadyExists)
		}
		resourceID, err := st.UpsertResource(taskID, "", name, op, arguments, existing)
		if err != nil {
			return fmt.Errorf("record resource %q: %w", name, err)
		}
		logger.Info().Str("action", string(op)).Msg("creating resource")
		return applySources(ctx, st, client, destRoot, taskID, resourceID, name, op, arguments, false, force)

	case types.ActionUpdate:
		existing, err := st.FindResource(name)
		if err != nil {
			return fmt.Errorf("look up resource %q: %w", name, err)
		}
		if existing == nil {
			return fmt.Errorf("resource %q does not exist: %w", name, fetcherrors.ErrInvalid)
		}
		resourceID, err := st.UpsertResource(taskID, existing.ID, name, existing.Action, existing.Arguments, existing)
		if err != nil {
			return fmt.Errorf("bump resource %q: %w", name, err)
		}
		logger.Info().Str("action", string(existing.Action)).Msg("updating resource")
		return applySources(ctx, st, client, destRoot, taskID, resourceID, name, existing.Action, existing.Arguments, true, force)

	case types.ActionRemove:
		existing, err := st.FindResource(name)
		if err != nil {
			return fmt.Errorf("look up resource %q: %w", name, err)
		}
		if existing == nil {
			return fmt.Errorf("resource %q does not exist: %w", name, fetcherrors.ErrInvalid)
		}
		if err := removeResource(st, existing); err != nil {
			return err
		}
		logger.Info().Msg("removed resource")
		return nil

	default:
		return fmt.Errorf("resource %q: unsupported action %q: %w", name, op, fetcherrors.ErrUnsupported)
	}
}

// applySources resolves a resource's sources via its Platform adapter,
// dispatches each through its creation action, and reconciles any src row
// left behind by a source no longer emitted. arguments is the resource's
// stored (or, on create, about-to-be-stored) options, decoded and applied
// as overrides on top of each Platform-resolved SourceSpec.
func applySources(ctx context.Context, st store.Store, client *http.Client, destRoot, taskID, resourceID, name string, creationAction types.Action, arguments string, update, force bool) error {
	logger := log.WithResource(taskID, name)
	opts := decodeOptions(arguments)

	scheme, _, err := platform.ParseName(name)
	if err != nil {
		return fmt.Errorf("resource %q: %w", name, err)
	}
	p, ok := platform.Get(scheme)
	if !ok {
		return fmt.Errorf("resource %q: no platform registered for scheme %q: %w", name, scheme, fetcherrors.ErrUnsupported)
	}
	specs, err := p.Sources(ctx, name, resourceID)
	if err != nil {
		return fmt.Errorf("resolve sources for %q: %w", name, err)
	}

	taskErr := &fetcherrors.TaskError{}
	var liveSrcIDs []string

	for _, spec := range specs {
		stripComponents, trusted := opts.apply(spec.StripComponents, spec.Trusted)
		src, err := source.New(st, client, taskID, resourceID, spec.Name, spec.URL, spec.Kind, stripComponents, spec.Revision, trusted)
		if err != nil {
			taskErr.Add(name, spec.Name, err)
			continue
		}

		if src.ShouldSkip(update, force) {
			logger.Debug().Str("source", spec.Name).Msg("revision unchanged, skipping")
			metrics.SourcesSkippedTotal.Inc()
			liveSrcIDs = append(liveSrcIDs, src.ID())
			continue
		}

		if err := src.ProbeRevision(ctx); err != nil {
			taskErr.Add(name, spec.Name, err)
			continue
		}

		var actErr error
		switch creationAction {
		case types.ActionDownload:
			actErr = src.Download(ctx, destRoot, force)
		case types.ActionExtract:
			actErr = src.Extract(ctx, destRoot, force)
		case types.ActionInstall:
			actErr = src.Install(ctx, destRoot, force)
		default:
			actErr = fmt.Errorf("resource %q: unexpected creation action %q: %w", name, creationAction, fetcherrors.ErrInvalid)
		}
		if actErr != nil {
			metrics.ResourceFailuresTotal.WithLabelValues(string(creationAction)).Inc()
			taskErr.Add(name, spec.Name, actErr)
			continue
		}
		metrics.SourcesFetchedTotal.WithLabelValues(string(src.Kind())).Inc()
		liveSrcIDs = append(liveSrcIDs, src.ID())
	}

	if err := reconcileSources(st, resourceID, liveSrcIDs); err != nil {
		taskErr.Add(name, "", err)
	}

	if taskErr.HasFailures() {
		return taskErr
	}
	return nil
}

// reconcileSources implements the per-resource orphan reconciliation of
// spec.md §4.7: any src row for this resource not in liveSrcIDs is
// deleted, which cascades to its destinations in the store — but the
// files themselves must be unlinked here first.
func reconcileSources(st store.Store, resourceID string, liveSrcIDs []string) error {
	live := make(map[string]bool, len(liveSrcIDs))
	for _, id := range liveSrcIDs {
		live[id] = true
	}

	rows, err := st.SourcesByResource(resourceID)
	if err != nil {
		return fmt.Errorf("list sources for resource %q: %w", resourceID, err)
	}
	for _, row := range rows {
		if live[row.ID] {
			continue
		}
		if err := deleteSourceFiles(st, row.ID); err != nil {
			return err
		}
		if err := st.DeleteSource(row.ID); err != nil {
			return fmt.Errorf("delete orphan source %q: %w", row.ID, err)
		}
		metrics.OrphansPurgedTotal.WithLabelValues("source").Inc()
	}
	return nil
}

// removeResource deletes every destination (disk + store) and source of a
// resource, then the resource row itself (spec.md §4.7's remove path).
func removeResource(st store.Store, res *types.Resource) error {
	sources, err := st.SourcesByResource(res.ID)
	if err != nil {
		return fmt.Errorf("list sources for resource %q: %w", res.Name, err)
	}
	for _, src := range sources {
		if err := deleteSourceFiles(st, src.ID); err != nil {
			return err
		}
		if err := st.DeleteSource(src.ID); err != nil {
			return fmt.Errorf("delete source %q: %w", src.ID, err)
		}
	}
	if err := st.DeleteResource(res.ID); err != nil {
		return fmt.Errorf("delete resource %q: %w", res.Name, err)
	}
	return nil
}

func deleteSourceFiles(st store.Store, sourceID string) error {
	dsts, err := st.DestinationsBySource(sourceID)
	if err != nil {
		return fmt.Errorf("list destinations for source %q: %w", sourceID, err)
	}
	for _, dst := range dsts {
		if err := os.RemoveAll(dst.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("unlink %q: %w", dst.Path, err)
		}
		if err := st.DeleteDestination(dst.ID); err != nil {
			return fmt.Errorf("delete destination row %q: %w", dst.ID, err)
		}
	}
	return nil
}
