package config

import (
	"encoding/json"
	"testing"

	"github.com/bake-hpc/bake"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Run("empty document uses all defaults", func(t *testing.T) {
		tr, err := Load(nil)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if tr.FileBackend.NLogs != 4 || tr.FileBackend.Alignment != 4096 {
			t.Fatalf("unexpected defaults: %+v", tr.FileBackend)
		}
	})

	t.Run("partial document keeps unset sub-trees at default", func(t *testing.T) {
		doc := []byte(`{"file_backend": {"nlogs": 8}}`)
		tr, err := Load(doc)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if tr.FileBackend.NLogs != 8 {
			t.Fatalf("nlogs = %d, want 8", tr.FileBackend.NLogs)
		}
		if tr.FileBackend.Alignment != 4096 {
			t.Fatalf("alignment = %d, want default 4096", tr.FileBackend.Alignment)
		}
		if tr.Pipeline.NPools != 4 {
			t.Fatalf("missing pipeline sub-tree not materialized to default: %+v", tr.Pipeline)
		}
	})

	t.Run("unknown keys round-trip through Extra", func(t *testing.T) {
		doc := []byte(`{"experimental_flag": true}`)
		tr, err := Load(doc)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		out, err := tr.Bytes()
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(out, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, ok := m["experimental_flag"]; !ok {
			t.Fatal("experimental_flag did not round-trip")
		}
	})
}

func TestValidate_IllegalValues(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"zero nlogs", `{"file_backend": {"nlogs": 0}}`},
		{"non-power-of-two alignment", `{"file_backend": {"alignment": 3000}}`},
		{"negative pmem size", `{"pmem_backend": {"default_initial_target_size": -1}}`},
		{"pipeline enabled with zero npools", `{"pipeline": {"pipeline_enable": true, "pipeline_npools": 0}}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load([]byte(c.doc))
			if bake.CodeOf(err) != bake.InvalidArg {
				t.Fatalf("Load(%s) code = %v, want InvalidArg", c.doc, bake.CodeOf(err))
			}
		})
	}
}

func TestAppendAttachedTarget(t *testing.T) {
	tr := Default()
	tr.AppendAttachedTarget(bake.BackendFile, "/data/t1")
	tr.AppendAttachedTarget(bake.BackendFile, "/data/t1")
	if len(tr.FileBackend.Targets) != 1 {
		t.Fatalf("expected de-duplicated target list, got %v", tr.FileBackend.Targets)
	}
	tr.AppendAttachedTarget(bake.BackendMem, "/pmem/t2")
	if len(tr.PmemBackend.Targets) != 1 {
		t.Fatalf("expected pmem target recorded, got %v", tr.PmemBackend.Targets)
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	tr, err := LoadFile("/nonexistent/path/bake.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if tr.FileBackend.NLogs != Default().FileBackend.NLogs {
		t.Fatal("missing config file did not fall back to defaults")
	}
}
