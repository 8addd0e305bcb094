package metrics

// VersionObserver forwards commit outcomes of the versioning engine
// to the collector and, when set, the Prometheus exporter.
type VersionObserver struct {
	collector *Collector
	exporter  *PrometheusExporter
}

// NewVersionObserver creates an observer. exporter may be nil.
func NewVersionObserver(collector *Collector, exporter *PrometheusExporter) *VersionObserver {
	return &VersionObserver{collector: collector, exporter: exporter}
}

// CommitSucceeded records the rows persisted by a commit of entityType.
func (o *VersionObserver) CommitSucceeded(entityType string, rows int) {
	o.collector.RecordCommit(entityType, rows)
	if o.exporter != nil {
		o.exporter.RecordCommit(entityType, rows)
	}
}

// CommitFailed records a commit of entityType that failed with the given kind.
func (o *VersionObserver) CommitFailed(entityType, kind string) {
	o.collector.RecordCommitFailure(entityType, kind)
	if o.exporter != nil {
		o.exporter.RecordCommitFailure(entityType, kind)
	}
}
