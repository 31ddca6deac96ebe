package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runMetrics() []Metric {
	dims := JobDimensions("data", "etl", "nightly")
	return []Metric{
		New(NameStart, 1, dims),
		New(NameDuration, 12, dims).WithUnit(UnitSeconds),
		New(NameExit, 0, dims),
		New(NameExit, 0, TeamDimensions("data")),
	}
}

func TestSnake(t *testing.T) {
	tests := map[string]string{
		"Duration":  "duration",
		"ExitCode":  "exit_code",
		"Data Lake": "data_lake",
		"ETL":       "etl",
		"my-ns":     "my_ns",
	}
	for in, want := range tests {
		if got := snake(in); got != want {
			t.Errorf("snake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextfileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twrap.prom")
	sink := NewTextfileSink(path)
	ms := runMetrics()

	if err := sink.Put(context.Background(), "DataLake", ms[:1]); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := sink.Put(context.Background(), "DataLake", ms[1:]); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`data_lake_start{exported_job="nightly",group="etl",team="data"} 1`,
		`data_lake_duration_seconds{exported_job="nightly",group="etl",team="data"} 12`,
		`data_lake_exit{exported_job="nightly",group="etl",team="data"} 0`,
		`data_lake_exit{exported_job="",group="",team="data"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

func TestPushgatewaySink(t *testing.T) {
	var gotPath, gotBody, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath, gotBody, gotMethod = r.URL.Path, string(body), r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewPushgatewaySink(srv.URL, "eu-west-1", srv.Client())
	if err := sink.Put(context.Background(), "twrap", runMetrics()); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/metrics/job/twrap/region/eu-west-1" {
		t.Errorf("path = %s", gotPath)
	}
	if !strings.Contains(gotBody, `twrap_duration_seconds{exported_job="nightly",group="etl",team="data"} 12`) {
		t.Errorf("body missing duration series:\n%s", gotBody)
	}
}

func TestPushgatewaySinkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewPushgatewaySink(srv.URL, "", srv.Client()).Put(context.Background(), "twrap", runMetrics())
	if err == nil {
		t.Fatal("expected error from failing pushgateway")
	}
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		cfg     SinkConfig
		wantErr bool
	}{
		{SinkConfig{}, false},
		{SinkConfig{Kind: "none"}, false},
		{SinkConfig{Kind: "pushgateway"}, true},
		{SinkConfig{Kind: "pushgateway", PushgatewayURL: "http://pgw:9091"}, false},
		{SinkConfig{Kind: "textfile", TextfilePath: "/tmp/x.prom"}, false},
		{SinkConfig{Kind: "cloudwatch"}, true},
	}
	for _, tt := range tests {
		_, err := NewSink(tt.cfg, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSink(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}
