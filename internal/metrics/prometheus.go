package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
)

// seriesCollector exposes metrics as gauges. It is unchecked: the set of
// series is only known at collect time.
type seriesCollector struct {
	namespace string
	metrics   []Metric
}

func (c *seriesCollector) Describe(chan<- *prometheus.Desc) {}

func (c *seriesCollector) Collect(ch chan<- prometheus.Metric) {
	byName := make(map[string][]Metric)
	var names []string
	for _, m := range c.metrics {
		fq := seriesName(c.namespace, m)
		if _, ok := byName[fq]; !ok {
			names = append(names, fq)
		}
		byName[fq] = append(byName[fq], m)
	}
	sort.Strings(names)

	for _, fq := range names {
		group := byName[fq]
		labels := labelNames(group)
		desc := prometheus.NewDesc(fq, fmt.Sprintf("%s reported by twrap.", group[0].Name), labels, nil)

		// Last value wins for identical label sets.
		seen := make(map[string]int)
		var values [][]string
		var points []float64
		for _, m := range group {
			lv := make([]string, len(labels))
			for i, l := range labels {
				lv[i] = dimensionValue(m.Dimensions, l)
			}
			key := strings.Join(lv, "\xff")
			if i, ok := seen[key]; ok {
				points[i] = m.Value
				continue
			}
			seen[key] = len(values)
			values = append(values, lv)
			points = append(points, m.Value)
		}
		for i := range values {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, points[i], values[i]...)
		}
	}
}

// seriesName builds <namespace>_<snake_name>, with a _seconds suffix for
// durations.
func seriesName(namespace string, m Metric) string {
	name := snake(m.Name)
	if m.Unit == UnitSeconds && !strings.HasSuffix(name, "_seconds") {
		name += "_seconds"
	}
	return prometheus.BuildFQName(snake(namespace), "", name)
}

func labelNames(group []Metric) []string {
	set := make(map[string]bool)
	for _, m := range group {
		for k := range m.Dimensions {
			set[labelName(k)] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dimensionValue(dims map[string]string, label string) string {
	for k, v := range dims {
		if labelName(k) == label {
			return v
		}
	}
	return ""
}

// labelName maps a dimension to a Prometheus label. job and instance are
// attached by the scraper, so ours are renamed the way Prometheus does.
func labelName(dim string) string {
	l := snake(dim)
	switch l {
	case "job", "instance":
		return "exported_" + l
	}
	return l
}

// snake converts CamelCase and arbitrary text into a valid metric name part.
func snake(s string) string {
	var b strings.Builder
	prevLower := false
	for i, r := range s {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || r == '_' || (unicode.IsDigit(r) && i > 0):
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		default:
			b.WriteByte('_')
			prevLower = false
		}
	}
	return b.String()
}

func gatherer(namespace string, metrics []Metric) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(&seriesCollector{namespace: namespace, metrics: metrics}); err != nil {
		return nil, err
	}
	return reg, nil
}

// PushgatewaySink adds metrics to a Prometheus Pushgateway group keyed by
// the namespace as job.
type PushgatewaySink struct {
	url    string
	region string
	client *http.Client
}

// NewPushgatewaySink creates a sink pushing to url.
func NewPushgatewaySink(url, region string, client *http.Client) *PushgatewaySink {
	return &PushgatewaySink{url: url, region: region, client: client}
}

func (s *PushgatewaySink) Put(ctx context.Context, namespace string, metrics []Metric) error {
	reg, err := gatherer(namespace, metrics)
	if err != nil {
		return err
	}
	pusher := push.New(s.url, snake(namespace)).
		Gatherer(reg).
		Client(s.client).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain))
	if s.region != "" {
		pusher = pusher.Grouping("region", s.region)
	}
	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("push to %s: %w", s.url, err)
	}
	return nil
}

// TextfileSink maintains a node_exporter textfile-collector file holding the
// latest value of every series seen so far.
type TextfileSink struct {
	path string

	mu   sync.Mutex
	seen []Metric
}

// NewTextfileSink creates a sink writing to path.
func NewTextfileSink(path string) *TextfileSink {
	return &TextfileSink{path: path}
}

func (s *TextfileSink) Put(_ context.Context, namespace string, metrics []Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append(append([]Metric(nil), s.seen...), metrics...)
	reg, err := gatherer(namespace, all)
	if err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	s.seen = all
	return nil
}
