package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "watch.include") to
// their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment:      "Minimum log level: trace, debug, info, warn, error, fail.\nTakes effect on reload.",
		Alternatives: []string{`level = "debug"`},
	},
	"log.max_size_mb": {
		Comment: "Rotate sigmsg.log when it reaches this size.",
	},
	"log.max_backups": {
		Comment: "Number of rotated log files to keep.",
	},
	"log.max_age_days": {
		Comment: "Delete rotated log files older than this many days (0 keeps them).",
	},

	// ── Watch ────────────────────────────────────────────────────
	"watch.include": {
		Comment: "Signals to report, as glob patterns over names.\nSupported: SIGHUP SIGINT SIGILL SIGABRT SIGFPE SIGPIPE SIGALRM SIGTERM",
		Alternatives: []string{
			`include = ["SIGHUP", "SIGTERM"]`,
			`include = ["SIG{HUP,INT,TERM}"]`,
		},
	},
	"watch.exclude": {
		Comment:      "Patterns removed from the included set.",
		Alternatives: []string{`exclude = ["SIGPIPE"]`},
	},
	"watch.exit_on_terminating": {
		Comment: "Exit on SIGINT or SIGTERM. When false the daemon only reports them\nand must be stopped with SIGKILL.",
	},
	"watch.reload_on_change": {
		Comment: "Reload this file when it changes on disk. SIGHUP always reloads.",
	},
	"watch.subscribers": {
		Comment: "Independent receivers started by the daemon. Each logs every signal.\nRequires a restart.",
	},

	// ── Metrics ──────────────────────────────────────────────────
	"metrics.enabled": {
		Comment: "Serve Prometheus metrics. Requires a restart.",
	},
	"metrics.listen": {
		Alternatives: []string{`listen = ":9464"`},
	},
	"metrics.path": {},

	// ── Webhook ──────────────────────────────────────────────────
	"webhook.url": {
		Comment:      "POST each reported signal as JSON to this URL. Empty disables forwarding.",
		Alternatives: []string{`url = "https://hooks.example.com/sigmsg"`},
	},
	"webhook.rate_per_second": {
		Comment: "Sustained forwarding rate. Signals beyond rate and burst are dropped.",
	},
	"webhook.burst": {},
	"webhook.retry_max": {
		Comment: "Retries per signal on connection errors and 5xx responses.",
	},
	"webhook.timeout_seconds": {},
}
