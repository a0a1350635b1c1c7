package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorGreen       = 32
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorLightYellow = 93
	colorLightGreen  = 92
	colorCyan        = 96
)

// VgFormatter renders colored logfmt lines with a stable field order:
// level, ts, source, sorted data fields, msg.
type VgFormatter struct{}

func (f *VgFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buf bytes.Buffer

	writePair(&buf, "level", levelColor(entry.Level), strings.ToUpper(entry.Level.String())[:4])
	writePair(&buf, "ts", colorLightYellow, entry.Time.Format("2006-01-02 15:04:05.000"))

	if _, file, line, ok := runtime.Caller(6); ok {
		writePair(&buf, "source", colorLightYellow, fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, err := json.Marshal(entry.Data[k])
		if err != nil || len(encoded) == 0 {
			continue
		}
		writePair(&buf, k, valueColor(string(encoded)), string(encoded))
	}

	writePair(&buf, "msg", colorLightGreen, strconv.Quote(entry.Message))

	line := strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(buf.String())
	return []byte(line + "\n"), nil
}

func writePair(buf *bytes.Buffer, key string, color int, value string) {
	if buf.Len() > 0 {
		buf.WriteByte(' ')
	}
	fmt.Fprintf(buf, "\x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m", colorCyan, key, color, value)
}

func levelColor(level log.Level) int {
	switch level {
	case log.PanicLevel, log.FatalLevel, log.ErrorLevel:
		return colorRed
	case log.WarnLevel:
		return colorYellow
	case log.DebugLevel, log.TraceLevel:
		return colorGray
	default:
		return colorBlue
	}
}

func valueColor(encoded string) int {
	if _, err := strconv.ParseFloat(encoded, 64); err == nil {
		return colorGreen
	}
	if strings.HasPrefix(encoded, `"`) {
		return colorLightYellow
	}
	return colorCyan
}
