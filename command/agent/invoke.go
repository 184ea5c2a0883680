package agent

import (
	"bytes"
	"fmt"
	"github.com/armon/go-metrics"
	"github.com/clustermesh/serf/serf"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const windowsGOOS = "windows"

// invokeEventScript executes script for event. SERF_EVENT always carries
// the event type; user events also set SERF_USER_EVENT. Event data is
// passed on stdin to keep the interface pipe-friendly.
func invokeEventScript(logger *slog.Logger, script string, self serf.Member, event serf.Event) error {
	defer metrics.MeasureSince([]string{"agent", "invoke", script}, time.Now())
	var output bytes.Buffer

	shell, flag := "/bin/sh", "-c"
	if runtime.GOOS == windowsGOOS {
		shell, flag = "cmd", "/C"
	}

	cmd := exec.Command(shell, flag, script)
	cmd.Env = append(os.Environ(),
		"SERF_EVENT="+event.EventType().String(),
		"SERF_SELF_NAME="+self.Name,
		"SERF_SELF_ROLE="+self.Tags["role"],
	)
	cmd.Stderr = &output
	cmd.Stdout = &output

	for name, val := range self.Tags {
		cmd.Env = append(cmd.Env, fmt.Sprintf("SERF_TAG_%s=%s", strings.ToUpper(name), val))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	switch e := event.(type) {
	case serf.MemberEvent:
		go memberEventStdin(stdin, &e)
	case serf.UserEvent:
		cmd.Env = append(cmd.Env, "SERF_USER_EVENT="+e.Name)
		cmd.Env = append(cmd.Env, fmt.Sprintf("SERF_USER_LTIME=%d", e.LTime))
		go streamPayload(logger, stdin, e.Payload)
	case *serf.Query:
		cmd.Env = append(cmd.Env, "SERF_QUERY_NAME="+e.Name)
		cmd.Env = append(cmd.Env, fmt.Sprintf("SERF_QUERY_LTIME=%d", e.LTime))
		go streamPayload(logger, stdin, e.Payload)
	default:
		return fmt.Errorf("unknown event type: %s", event.EventType().String())
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	err = cmd.Wait()
	logger.Debug("event script output", "event", event.EventType().String(), "output", output.String())
	if err != nil {
		return err
	}

	if query, ok := event.(*serf.Query); ok && output.Len() > 0 {
		if err := query.Respond(output.Bytes()); err != nil {
			logger.Warn("failed to respond to query", "query", event.String(), "error", err)
		}
	}

	return nil
}

// eventClean escapes tabs/newlines out of a value bound for a stdin line.
func eventClean(v string) string {
	v = strings.ReplaceAll(v, "\t", "\\t")
	v = strings.ReplaceAll(v, "\n", "\\n")
	return v
}

// memberEventStdin writes one tab-separated "NAME ADDRESS ROLE TAGS" line
// per affected member.
func memberEventStdin(stdin io.WriteCloser, e *serf.MemberEvent) {
	defer stdin.Close()
	for _, member := range e.Members {
		var tagPairs []string
		for name, value := range member.Tags {
			tagPairs = append(tagPairs, fmt.Sprintf("%s=%s", name, value))
		}
		tags := strings.Join(tagPairs, ",")

		_, err := stdin.Write([]byte(fmt.Sprintf(
			"%s\t%s\t%s\t%s\n",
			eventClean(member.Name),
			member.Addr.String(),
			eventClean(member.Tags["role"]),
			eventClean(tags))))
		if err != nil {
			return
		}
	}
}

// streamPayload writes buf to stdin, appending a trailing newline if
// missing since most shell read implementations need one.
func streamPayload(logger *slog.Logger, stdin io.WriteCloser, buf []byte) {
	defer stdin.Close()

	payload := buf
	if len(payload) > 0 && payload[len(payload)-1] != '\n' {
		payload = append(payload, '\n')
	}

	if _, err := stdin.Write(payload); err != nil {
		logger.Error("error writing payload", "error", err)
	}
}
