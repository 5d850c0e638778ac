package dso

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type ksym struct {
	addr uint64
	typ  byte
	name string
}

func TestParseKallsyms(t *testing.T) {
	input := "" +
		"ffffffffa0064000 T do_sys_open\n" +
		"ffffffffa0065000 t helper\t[ext4]\n" +
		"not-an-address T broken\n" +
		"ffffffffa0066000\n" +
		"\n" +
		"ffffffffa0067000 D jiffies\n" +
		"ffffffffa0068000 W weak_fn" // no trailing newline

	var got []ksym
	parseKallsyms([]byte(input), func(addr uint64, typ byte, name string) {
		got = append(got, ksym{addr, typ, name})
	})
	require.Equal(t, []ksym{
		{0xffffffffa0064000, 'T', "do_sys_open"},
		{0xffffffffa0065000, 't', "helper"},
		{0xffffffffa0067000, 'D', "jiffies"},
		{0xffffffffa0068000, 'W', "weak_fn"},
	}, got)
}
