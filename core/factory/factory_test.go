package factory

import (
	"testing"
	"time"
)

type sinkConf struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Batch   int           `json:"batch"`
}

type sink struct{ conf sinkConf }

func TestRegistry_CreateDecodesConf(t *testing.T) {
	reg := NewRegistry[*sink]()
	if err := reg.Register("influx", func(conf map[string]any) (*sink, error) {
		var c sinkConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sink{conf: c}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "influx", Conf: map[string]any{
		"url":     "http://localhost:8086",
		"timeout": "3s",
		"batch":   "10",
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.conf.Timeout != 3*time.Second || inst.conf.Batch != 10 || inst.conf.URL == "" {
		t.Fatalf("unexpected conf %+v", inst.conf)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("x", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := reg.Register("y", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "y"}); err == nil {
		t.Fatal("expected unknown type error")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "x" {
		t.Fatalf("unexpected names %v", names)
	}
}
