package search

import (
	"strconv"
	"strings"
	"time"
)

const defaultDateLayout = "2006-01-02T15:04:05.000Z"

var jodaLayout = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MMMM", "January",
	"MMM", "Jan",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"hh", "03",
	"mm", "04",
	"ss", "05",
	"SSS", "000",
	"a", "PM",
	"Z", "Z07:00",
	"'T'", "T",
	"'Z'", "Z",
)

// FormatDate renders a bucket key using an Elasticsearch date format. Named
// formats and the common pattern letters are understood; anything else falls
// back to strict_date_optional_time.
func FormatDate(t time.Time, format string) string {
	t = t.UTC()
	switch format {
	case "", "strict_date_optional_time", "date_optional_time", "strict_date_time", "date_time":
		return t.Format(defaultDateLayout)
	case "epoch_millis":
		return strconv.FormatInt(t.UnixMilli(), 10)
	case "epoch_second":
		return strconv.FormatInt(t.Unix(), 10)
	case "date", "strict_date", "yyyy-MM-dd":
		return t.Format(time.DateOnly)
	}
	if i := strings.Index(format, "||"); i >= 0 {
		return FormatDate(t, format[:i])
	}
	return t.Format(jodaLayout.Replace(format))
}
