package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/pflag"

	"github.com/randytsao24/timeright/internal/config"
)

func TestDecideCmd(t *testing.T) {
	cmd := newDecideCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--distance", "200", "--eta", "300", "--signals", "30,45"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "RUN [HIGH]") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDecideCmdRequiresETA(t *testing.T) {
	cmd := newDecideCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--distance", "200"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected missing --eta to fail")
	}
}

func TestTransferCmdJSON(t *testing.T) {
	cmd := newTransferCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--platform", "100", "--eta", "20", "--crowd", "high", "--json"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if got["action"] != "WAIT_NEXT" {
		t.Errorf("action = %v, want WAIT_NEXT", got["action"])
	}
}

func TestProfileCmd(t *testing.T) {
	cmd := newProfileCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--low-power", "--battery", "0.9"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), `"name": "low_power"`) {
		t.Errorf("output = %s", out.String())
	}
}

func TestApplyFlags(t *testing.T) {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String(FlagPort, "", "")
	flags.String(FlagStops, "", "")
	if err := flags.Parse([]string{"--port", "9000"}); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Port: "3000", StopsFile: "data/stops.yaml"}
	applyFlags(flags, cfg)
	if cfg.Port != "9000" {
		t.Errorf("port = %q, want 9000", cfg.Port)
	}
	if cfg.StopsFile != "data/stops.yaml" {
		t.Errorf("unset flag overwrote stops file: %q", cfg.StopsFile)
	}
}
