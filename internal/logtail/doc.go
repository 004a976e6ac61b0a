// Package logtail reads the end of the kiosk's own JSON log for the
// diagnostics view.
//
// Read keeps a ring buffer of maxLines so a large log file costs one
// sequential scan and O(maxLines) memory:
//
//	lines, err := logtail.Read(cfg.LogFile, 200)
//
// Parse and Format decode zap's JSON encoding with gjson. Known keys (ts,
// level, logger, msg) become Entry fields; everything else is kept as
// key=value pairs in file order so connection reasons and generations stay
// visible on a small screen. Lines that are not JSON objects pass through
// Format unchanged.
package logtail
