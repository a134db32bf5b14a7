// Package templates holds the control server's HTML pages.
package templates

// Row is one label/value line of the summary table.
type Row struct {
	Label string
	Value string
}

// TraceRow is one startup trace entry as shown on the page.
type TraceRow struct {
	Time    string
	Stage   string
	Status  string
	Message string
}

// StatusData is what the status page shows.
type StatusData struct {
	AppName string
	Rows    []Row
	LastErr string
	Trace   []TraceRow
}
