package stream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkoosis/ratewatch/pkg/ratemonitor"
)

func TestSink_Notify_When_MonoTheme(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSink(&buf, MonoTheme(), 80, false)

	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticePass, Text: "Test passed: pkg.TestA (0/1)", Completed: 1})
	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeFail, Text: "Test failed (final): pkg.TestB (1/2)", Failed: 1, Completed: 2})
	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeSkipRetry, Text: "Skipping retry 1/3 for test: pkg.TestC"})

	assert.Equal(t,
		"  + Test passed: pkg.TestA (0/1)\n"+
			"  x Test failed (final): pkg.TestB (1/2)\n"+
			"  - Skipping retry 1/3 for test: pkg.TestC\n",
		stripANSI(buf.String()))
}

func TestSink_Notify_When_Live(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSink(&buf, MonoTheme(), 120, true)

	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeFail, Text: "failed", Failed: 1200, Completed: 4800, Percent: 25})

	out := stripANSI(buf.String())
	assert.Contains(t, out, "watching · 1,200/4,800 failed (25%)")

	buf.Reset()
	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeTerminating, Text: "Allowing 2000ms"})
	assert.Contains(t, stripANSI(buf.String()), "stopping · 1,200/4,800 failed (25%)")
	assert.Contains(t, buf.String(), "\033[2K", "footer is erased before the next line")
}

func TestSink_Notify_When_LiveWithoutCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSink(&buf, MonoTheme(), 80, true)

	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticeEnabled, Text: "enabled"})

	assert.Equal(t, "  * enabled\n", buf.String())
}

func TestSink_Println_And_Close(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSink(&buf, MonoTheme(), 80, true)
	s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticePass, Text: "ok", Completed: 1})

	s.Println("ok  \texample.com/pkg\t0.01s")
	s.Close()
	buf.Reset()
	s.Println("after close")

	assert.Equal(t, "after close\n", buf.String())
}

func TestSink_ConcurrentNotify(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewSink(&buf, MonoTheme(), 80, true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.Println("from timer")
		}
	}()
	for i := 0; i < 50; i++ {
		s.Notify(ratemonitor.Notice{Kind: ratemonitor.NoticePass, Text: "pass", Completed: i + 1})
	}
	<-done

	assert.Equal(t, 50, strings.Count(buf.String(), "from timer"))
}

func TestThemeByName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "orca", ThemeByName("orca").Name)
	assert.Equal(t, "mono", ThemeByName("mono").Name)
	assert.Equal(t, "default", ThemeByName("nope").Name)
}
