package marine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/marinelabs/marine-go/iterrors"
)

// LoadDir discovers every *.wasm file directly under dir and loads each
// under a module name derived from its base filename (without
// extension), in sorted order for reproducibility. This is the same
// "walk a directory, load every policy file, name it by its filename"
// shape as the teacher's file-based policy loader, generalized from one
// policy file to an arbitrary guest module directory. When watch is
// true, a background goroutine uses fsnotify to reload a module whenever
// its backing file is written, and to load newly added files.
func (rt *Runtime) LoadDir(ctx context.Context, dir string, watch bool) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return iterrors.ErrModulesDirRequiredButMissing
	}

	names, err := wasmFilesIn(dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := rt.loadFile(ctx, dir, name); err != nil {
			return err
		}
	}

	if watch {
		w, err := newDirWatcher(ctx, rt, dir)
		if err != nil {
			return err
		}
		rt.watcher = w
	}

	return nil
}

func wasmFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read modules dir %q: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func moduleNameFor(fileName string) string {
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}

func (rt *Runtime) loadFile(ctx context.Context, dir, fileName string) error {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read module file %q: %w", path, err)
	}
	name := moduleNameFor(fileName)
	if err := rt.reg.LoadModule(ctx, name, data); err != nil {
		return err
	}
	rt.logger.WithField("module", name).WithField("path", path).Info("module loaded from directory")
	return nil
}

// dirWatcher reloads a module whenever its backing file changes, routing
// every reload through the same load_module/unload_module calls a direct
// caller would use, so the registry's module table is still mutated only
// through those two operations (§5).
type dirWatcher struct {
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

func newDirWatcher(ctx context.Context, rt *Runtime, dir string) (*dirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start directory watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch modules dir %q: %w", dir, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &dirWatcher{fsw: fsw, cancel: cancel, done: make(chan struct{})}

	go w.run(wctx, rt, dir)
	return w, nil
}

func (w *dirWatcher) run(ctx context.Context, rt *Runtime, dir string) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, rt, dir, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			rt.logger.Warn("directory watcher error: ", err)
		}
	}
}

func (w *dirWatcher) handle(ctx context.Context, rt *Runtime, dir string, ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".wasm") {
		return
	}
	if !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
		return
	}

	fileName := filepath.Base(ev.Name)
	name := moduleNameFor(fileName)

	if err := rt.reg.UnloadModule(ctx, name); err != nil {
		if _, alreadyAbsent := err.(*iterrors.NoSuchFunctionError); !alreadyAbsent {
			rt.logger.Warn("reload: unload failed for ", name, ": ", err)
			return
		}
	}

	if err := rt.loadFile(ctx, dir, fileName); err != nil {
		rt.logger.Warn("reload: load failed for ", name, ": ", err)
	}
}

func (w *dirWatcher) stop() {
	w.cancel()
	<-w.done
}
