package command

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/park285/chat-dispatch-bot/internal/obslog"
)

//go:embed defaults
var defaultFiles embed.FS

// Defaults returns the embedded descriptor tree.
func Defaults() fs.FS {
	sub, err := fs.Sub(defaultFiles, "defaults")
	if err != nil {
		panic(err)
	}
	return sub
}

type tables struct {
	byName     map[string]*Descriptor
	alias      map[string]string
	categories map[string][]string
}

func newTables() *tables {
	return &tables{
		byName:     make(map[string]*Descriptor),
		alias:      make(map[string]string),
		categories: make(map[string][]string),
	}
}

// Registry maps names and aliases to descriptors. Load swaps all tables at
// once; descriptors added with Register survive a Load.
type Registry struct {
	bindings Bindings
	logger   *zap.Logger

	mu     sync.RWMutex
	t      *tables
	static []*Descriptor
}

func NewRegistry(bindings Bindings, logger *zap.Logger) *Registry {
	if bindings == nil {
		bindings = Bindings{}
	}
	return &Registry{bindings: bindings, logger: obslog.Or(logger), t: newTables()}
}

// Load walks fsys one level deep: each subdirectory is a category and each
// .yaml/.yml file in it holds one descriptor or a list. A file that fails to
// parse is logged and skipped. Returns the number of commands registered.
func (r *Registry) Load(fsys fs.FS) (int, error) {
	dirs, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("read command root: %w", err)
	}

	next := newTables()
	count := 0
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		category := strings.ToLower(dir.Name())
		files, err := fs.ReadDir(fsys, dir.Name())
		if err != nil {
			r.logger.Warn("command_dir_error", zap.String("category", category), zap.Error(err))
			continue
		}
		for _, f := range files {
			ext := strings.ToLower(path.Ext(f.Name()))
			if f.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			file := path.Join(dir.Name(), f.Name())
			descs, err := readDescriptors(fsys, file)
			if err != nil {
				r.logger.Error("command_load_error", zap.String("file", file), zap.Error(err))
				continue
			}
			for _, d := range descs {
				if d == nil {
					continue
				}
				d.Category = category
				if err := r.bind(d); err != nil {
					r.logger.Debug("command_skipped", zap.String("file", file), zap.String("name", d.Name), zap.Error(err))
					continue
				}
				r.index(next, d)
				count++
			}
		}
	}

	r.mu.Lock()
	for _, d := range r.static {
		r.index(next, d)
	}
	r.t = next
	r.mu.Unlock()

	r.logger.Info("commands_loaded", zap.Int("count", count), zap.Int("categories", len(next.categories)))
	return count, nil
}

// Register adds a descriptor directly. A descriptor without a Handler is
// bound through its Binding key.
func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Category) == "" {
		d.Category = "other"
	}
	if err := r.bind(&d); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.static = append(r.static, &d)
	r.index(r.t, &d)
	return nil
}

func (r *Registry) bind(d *Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return ErrNoName
	}
	if d.Handler == nil {
		d.Handler = r.bindings[strings.TrimSpace(d.Binding)]
	}
	if d.Handler == nil {
		return ErrNoHandler
	}
	return nil
}

// index adds d to t. A command's own name always wins over another
// command's alias.
func (r *Registry) index(t *tables, d *Descriptor) {
	name := strings.ToLower(d.Name)
	if prev, ok := t.byName[name]; ok {
		r.logger.Warn("command_replaced", zap.String("name", name), zap.String("previous_category", prev.Category))
		t.categories[prev.Category] = remove(t.categories[prev.Category], name)
	}
	t.byName[name] = d
	t.alias[name] = name
	for _, a := range d.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, named := t.byName[a]; named && a != name {
			r.logger.Warn("command_alias_shadowed", zap.String("alias", a), zap.String("command", name))
			continue
		}
		if owner, ok := t.alias[a]; ok && owner != name {
			r.logger.Warn("command_alias_conflict", zap.String("alias", a), zap.String("was", owner), zap.String("now", name))
		}
		t.alias[a] = name
	}
	t.categories[d.Category] = append(t.categories[d.Category], name)
}

// Lookup resolves a name or alias case-insensitively.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.t.alias[key]
	if !ok {
		return nil, false
	}
	d, ok := r.t.byName[canonical]
	return d, ok
}

// Categories returns the category names, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.t.categories))
	for c, names := range r.t.categories {
		if len(names) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// ByCategory returns the descriptors of one category sorted by name.
func (r *Registry) ByCategory(category string) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := r.t.categories[strings.ToLower(category)]
	out := make([]*Descriptor, 0, len(names))
	for _, n := range names {
		if d, ok := r.t.byName[n]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of distinct commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.t.byName)
}

func readDescriptors(fsys fs.FS, file string) ([]*Descriptor, error) {
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []*Descriptor
		if err := root.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	case yaml.MappingNode:
		var d Descriptor
		if err := root.Decode(&d); err != nil {
			return nil, err
		}
		return []*Descriptor{&d}, nil
	}
	return nil, fmt.Errorf("unexpected yaml node kind %d", root.Kind)
}

func remove(list []string, name string) []string {
	out := list[:0]
	for _, n := range list {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
