// Package fmtconfig models spec.md §3's FormatConfig, merges global and
// per-plugin JSON configuration sections, and matches files to plugins by
// association glob (falling back to filename/extension), following the
// same two-tier matching the teacher's pkg/fileops.PatternMatcher performs
// for file exclusion — here applied to plugin *association* instead.
package fmtconfig

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
)

// PluginConfig names one plugin entry in a FormatConfig: where its bytes
// come from (pkg/resolver.Resolver key), its JSON config section, and the
// association globs/extensions/filenames it claims.
type PluginConfig struct {
	Key          string            // resolver key, e.g. "dprint-plugin-typescript"
	Name         string            // plugin name once loaded (may differ until PluginInfo is fetched)
	Associations []string          // association globs (spec.md §4.7 step 2), checked before extension/filename
	Config       json.RawMessage   // this plugin's JSON config section
}

// FormatConfig is the merged, resolved configuration driving one run.
type FormatConfig struct {
	GlobalConfig json.RawMessage
	Plugins      []PluginConfig
	Excludes     []string // glob patterns of paths never formatted

	nextConfigID uint32
}

// NextConfigID hands out a process-unique, monotonically increasing
// config id, the same kind of stable-id-per-registration spec.md's
// RegisterConfig message needs (config_id is u32 on the wire, §4.3).
func (c *FormatConfig) NextConfigID() uint32 {
	return atomic.AddUint32(&c.nextConfigID, 1)
}

// Merge combines a base (e.g. project-wide defaults) and an override
// FormatConfig, override winning per key — the same "later wins, shallow
// per top-level key" merge strategy the teacher's
// pkg/config/merge_strategies.go implements for arbitrary config roots,
// specialized here to FormatConfig's two JSON sections.
func Merge(base, override *FormatConfig) (*FormatConfig, error) {
	merged := &FormatConfig{}
	var err error
	if merged.GlobalConfig, err = mergeJSON(base.GlobalConfig, override.GlobalConfig); err != nil {
		return nil, err
	}
	merged.Excludes = append(append([]string{}, base.Excludes...), override.Excludes...)

	byKey := map[string]PluginConfig{}
	order := []string{}
	for _, p := range base.Plugins {
		byKey[p.Key] = p
		order = append(order, p.Key)
	}
	for _, p := range override.Plugins {
		if existing, ok := byKey[p.Key]; ok {
			mergedCfg, err := mergeJSON(existing.Config, p.Config)
			if err != nil {
				return nil, err
			}
			p.Config = mergedCfg
			if len(p.Associations) == 0 {
				p.Associations = existing.Associations
			}
		} else {
			order = append(order, p.Key)
		}
		byKey[p.Key] = p
	}
	for _, k := range order {
		merged.Plugins = append(merged.Plugins, byKey[k])
	}
	return merged, nil
}

func mergeJSON(base, override json.RawMessage) (json.RawMessage, error) {
	if len(override) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return override, nil
	}
	var baseMap, overrideMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(override, &overrideMap); err != nil {
		return nil, err
	}
	if baseMap == nil {
		baseMap = map[string]json.RawMessage{}
	}
	for k, v := range overrideMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

// MatchPlugin returns the PluginConfig that should handle path, per
// spec.md §4.7 step 2: association globs are checked across all plugins
// first (first match in declaration order wins), then filename/extension
// is used as a fallback across all plugins.
func MatchPlugin(cfg *FormatConfig, path string) (*PluginConfig, bool) {
	for idx := range cfg.Plugins {
		p := &cfg.Plugins[idx]
		for _, pattern := range p.Associations {
			if ok, _ := doublestar.Match(pattern, path); ok {
				return p, true
			}
		}
	}
	base := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	for idx := range cfg.Plugins {
		p := &cfg.Plugins[idx]
		for _, a := range p.Associations {
			if a == base || strings.TrimPrefix(a, "*.") == ext {
				return p, true
			}
		}
	}
	return nil, false
}

// IsExcluded reports whether path matches one of cfg's exclude globs.
func IsExcluded(cfg *FormatConfig, path string) bool {
	for _, pattern := range cfg.Excludes {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
