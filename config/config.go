// Package config loads the engine's own tunables — EventLoop buffer sizes,
// timeouts, and plum/scheduler job definitions — from TOML or YAML, with
// optional live-reload of the schedule file. Grounded on the teacher's
// config package (config/interfaces.go's ConfigSource/FieldProvenance
// shapes, config/loader.go's Loader), trimmed from a generic
// reflection-driven, multi-source, struct-tag loader (whose Load/Reload
// were left as TODO stubs in the teacher copy) down to the two concrete
// document types this engine actually needs, fully implemented rather than
// stubbed.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned when a config file's extension is neither
// .toml nor .yaml/.yml.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// EventLoopConfig holds EventLoop tuning values read from the event_loop
// table of a schedule file. Load only decodes them: nothing in this module
// applies an EventLoopConfig to an EventLoop (NewEventLoop takes no
// configuration), so the values have effect only if a caller uses them.
type EventLoopConfig struct {
	// DeferredQueueCapacity is a size hint for the deferred-call queue.
	DeferredQueueCapacity int `toml:"deferred_queue_capacity" yaml:"deferred_queue_capacity"`
	// TickingSetCapacity is a size hint for the ticking-object map.
	TickingSetCapacity int `toml:"ticking_set_capacity" yaml:"ticking_set_capacity"`
	// RunUntilCompleteTimeout is a timeout for EventLoop.RunUntilComplete;
	// RunUntilComplete itself is bounded only by its ctx argument.
	RunUntilCompleteTimeout time.Duration `toml:"run_until_complete_timeout" yaml:"run_until_complete_timeout"`
}

// ScheduleEntry declares one cron-triggered process launch for
// plum/scheduler.
type ScheduleEntry struct {
	Name string `toml:"name" yaml:"name"`
	// Cron is a standard five-field cron expression or a descriptor such as
	// "@every 1m", parsed by robfig/cron's ParseStandard in plum/scheduler.
	Cron string `toml:"cron" yaml:"cron"`
	// ClassName is the class_name a plum/classloader.ClassLoader resolves
	// to build the ProcessImpl to launch.
	ClassName string `toml:"class_name" yaml:"class_name"`
	// Inputs seeds the launched process's raw inputs.
	Inputs map[string]any `toml:"inputs" yaml:"inputs"`
	// CatchUp replays missed firings on startup instead of skipping them.
	CatchUp bool `toml:"catch_up" yaml:"catch_up"`
}

// ScheduleDocument is the top-level shape of a schedule file.
type ScheduleDocument struct {
	Loop      EventLoopConfig `toml:"event_loop" yaml:"event_loop"`
	Schedules []ScheduleEntry `toml:"schedule" yaml:"schedule"`
}

// Load reads path (a .toml, .yaml, or .yml file) into a ScheduleDocument.
func Load(path string) (*ScheduleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	doc := &ScheduleDocument{}
	switch format(path) {
	case "toml":
		if err := toml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("config: parsing %s as toml: %w", path, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("config: parsing %s as yaml: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks every ScheduleEntry has the fields plum/scheduler needs to
// register a cron job, mirroring the teacher's ValidateStruct/ValidateField
// split collapsed into one pass since there is exactly one document shape.
func (d *ScheduleDocument) Validate() error {
	seen := make(map[string]bool, len(d.Schedules))
	for i, s := range d.Schedules {
		if s.Name == "" {
			return fmt.Errorf("config: schedule[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: schedule[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Cron == "" {
			return fmt.Errorf("config: schedule %q: cron is required", s.Name)
		}
		if s.ClassName == "" {
			return fmt.Errorf("config: schedule %q: class_name is required", s.Name)
		}
	}
	return nil
}

// CoerceInput converts a raw config value (as decoded from TOML/YAML, where
// numbers and durations often land as string or float64) into target's
// type, using golobby/cast the way the teacher leans on loose coercion
// rather than requiring callers to pre-type every input value by hand.
func CoerceInput(raw any, target string) (any, error) {
	switch target {
	case "string":
		return cast.ToString(raw)
	case "int":
		return cast.ToInt(raw)
	case "bool":
		return cast.ToBool(raw)
	case "duration":
		s, err := cast.ToString(raw)
		if err != nil {
			return nil, err
		}
		return time.ParseDuration(s)
	default:
		return raw, nil
	}
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// Watcher reloads a schedule file whenever it changes on disk, calling
// onChange with the freshly-parsed document. Grounded on the teacher's
// ConfigReloader.StartWatch contract, implemented concretely with
// fsnotify rather than left as a TODO stub.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
}

// WatchSchedule begins watching path for writes/creates, invoking onChange
// with the reloaded document on every change. Parse errors are passed to
// onErr instead of onChange so a malformed in-progress write never silently
// drops a previously-good schedule.
func WatchSchedule(path string, onChange func(*ScheduleDocument), onErr func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}

	w := &Watcher{watcher: fw, path: path, done: make(chan struct{})}
	go w.loop(onChange, onErr)
	return w, nil
}

func (w *Watcher) loop(onChange func(*ScheduleDocument), onErr func(error)) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := Load(w.path)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			if onChange != nil {
				onChange(doc)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if onErr != nil {
				onErr(err)
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
