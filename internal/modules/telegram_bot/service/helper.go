package service

import (
	"html"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// parseSpread принимает и запятую, и точку в качестве разделителя.
func parseSpread(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
	if err != nil {
		return 0, errors.Wrapf(err, "parse spread %q", s)
	}
	v, _ := d.Float64()
	return v, nil
}

// splitCommand отделяет команду (без @botname, в нижнем регистре) от аргументов.
func splitCommand(text string) (string, []string) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(parts[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, parts[1:]
}

func escape(s string) string { return html.EscapeString(s) }
