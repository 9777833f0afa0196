package fmtconfig

import "testing"

func TestMergePluginConfigOverrideWins(t *testing.T) {
	base := &FormatConfig{
		GlobalConfig: []byte(`{"lineWidth":80}`),
		Plugins: []PluginConfig{
			{Key: "ts", Associations: []string{"**/*.ts"}, Config: []byte(`{"semiColons":true}`)},
		},
	}
	override := &FormatConfig{
		GlobalConfig: []byte(`{"lineWidth":120}`),
		Plugins: []PluginConfig{
			{Key: "ts", Config: []byte(`{"semiColons":false}`)},
		},
	}
	merged, err := Merge(base, override)
	if err != nil {
		t.Fatal(err)
	}
	if string(merged.GlobalConfig) != `{"lineWidth":120}` {
		t.Fatalf("global config not overridden: %s", merged.GlobalConfig)
	}
	if len(merged.Plugins) != 1 || merged.Plugins[0].Associations[0] != "**/*.ts" {
		t.Fatalf("expected associations preserved from base: %+v", merged.Plugins)
	}
}

func TestMatchPluginByAssociationGlob(t *testing.T) {
	cfg := &FormatConfig{
		Plugins: []PluginConfig{
			{Key: "ts", Associations: []string{"**/*.ts"}},
			{Key: "md", Associations: []string{"**/*.md"}},
		},
	}
	p, ok := MatchPlugin(cfg, "src/app.ts")
	if !ok || p.Key != "ts" {
		t.Fatalf("expected ts match, got %+v ok=%v", p, ok)
	}
}

func TestMatchPluginFallsBackToExtension(t *testing.T) {
	cfg := &FormatConfig{
		Plugins: []PluginConfig{
			{Key: "md", Associations: []string{"*.md"}},
		},
	}
	p, ok := MatchPlugin(cfg, "docs/README.md")
	if !ok || p.Key != "md" {
		t.Fatalf("expected extension fallback match, got %+v ok=%v", p, ok)
	}
}

func TestIsExcluded(t *testing.T) {
	cfg := &FormatConfig{Excludes: []string{"**/node_modules/**"}}
	if !IsExcluded(cfg, "pkg/node_modules/foo.ts") {
		t.Fatal("expected exclusion match")
	}
	if IsExcluded(cfg, "pkg/foo.ts") {
		t.Fatal("unexpected exclusion match")
	}
}
