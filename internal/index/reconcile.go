package index

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/models"
)

// Reconcile compares the vault with the stored index and returns the tasks
// that bring the index up to date:
//   - files that are new, or whose size or mtime changed, are upserted
//   - indexed files that are gone or no longer in scope are deleted
//
// It does not modify the index itself. An incompatible index is reported as
// an error; the caller should rebuild.
func (s *Service) Reconcile(ctx context.Context) ([]models.Task, error) {
	cfg, _ := s.current()
	if !cfg.Enabled {
		return nil, nil
	}

	var indexed map[string]models.FileRecord
	st, err := s.EnsureLoaded(ctx)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		indexed = st.Meta.Files
	}

	files, err := s.store.List(cfg)
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var tasks []models.Task
	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}
		prev, ok := indexed[f.Path]
		if ok && prev.Size == f.Size && prev.MtimeMs == f.ModTime.UnixMilli() {
			continue
		}
		tasks = append(tasks, models.Task{Op: models.OpUpsert, RelativePath: f.Path})
	}

	var stale []string
	for p := range indexed {
		if _, ok := disk[p]; !ok {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	for _, p := range stale {
		tasks = append(tasks, models.Task{Op: models.OpDelete, RelativePath: p})
	}

	s.logger.Info("index: reconcile",
		slog.Int("on_disk", len(files)),
		slog.Int("indexed", len(indexed)),
		slog.Int("tasks", len(tasks)))
	return tasks, nil
}
