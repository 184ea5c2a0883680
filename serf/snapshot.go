package serf

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Serf supports an append-only "snapshot" recovery log that records
// member-alive/not-alive lines and periodic clock checkpoints so a
// restarted node can rejoin the cluster it was last part of and avoid
// replaying events it has already seen.

const (
	snapshotFsyncInterval  = 100 * time.Millisecond
	snapshotClockInterval  = 500 * time.Millisecond
	snapshotCompactSuffix  = ".compact"
	defaultSnapshotMaxSize = 128 * 1024
)

// Snapshotter ingests membership and user events, persisting enough of
// them to disk to reconstruct a rejoin list and clock floor at startup.
type Snapshotter struct {
	serf *Serf

	aliveNodes     map[string]string
	lastClock      LamportTime
	lastEventClock LamportTime
	lastQueryClock LamportTime

	fh        *os.File
	path      string
	offset    int64
	maxSize   int64
	lastFsync time.Time

	rejoinAfterLeave bool

	leaveCh    chan struct{}
	leaving    bool
	shutdownCh <-chan struct{}
	waitCh     chan struct{}

	logger *slog.Logger
}

// newSnapshotter opens (creating if absent) the recovery log at path,
// replays it to recover the alive-node set and clock floors, and starts
// the background checkpoint loop. The returned addresses are the last
// known alive peers, suitable for an immediate rejoin attempt.
func newSnapshotter(path string, conf *Config, s *Serf, shutdownCh <-chan struct{}) (*Snapshotter, []string, LamportTime, LamportTime, LamportTime, error) {
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0755)
	if err != nil {
		return nil, nil, 0, 0, 0, fmt.Errorf("failed to open snapshot: %v", err)
	}

	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, 0, 0, 0, fmt.Errorf("failed to stat snapshot: %v", err)
	}

	snap := &Snapshotter{
		serf:             s,
		aliveNodes:       make(map[string]string),
		fh:               fh,
		path:             path,
		offset:           info.Size(),
		maxSize:          defaultSnapshotMaxSize,
		leaveCh:          make(chan struct{}),
		shutdownCh:       shutdownCh,
		waitCh:           make(chan struct{}),
		logger:           conf.Logger,
		rejoinAfterLeave: conf.RejoinAfterLeave,
	}

	if err := snap.replay(); err != nil {
		fh.Close()
		return nil, nil, 0, 0, 0, err
	}

	recovered := make([]string, 0, len(snap.aliveNodes))
	for _, addr := range snap.aliveNodes {
		recovered = append(recovered, addr)
	}
	for i := range recovered {
		j := rand.Intn(i + 1)
		recovered[i], recovered[j] = recovered[j], recovered[i]
	}

	go snap.run()
	return snap, recovered, snap.lastClock, snap.lastEventClock, snap.lastQueryClock, nil
}

// run is the background loop periodically flushing clock checkpoints
// and handling the leave/shutdown signals.
func (s *Snapshotter) run() {
	ticker := time.NewTicker(snapshotClockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.leaveCh:
			s.aliveNodes = make(map[string]string)
			s.leaving = true
			s.tryAppend("leave\n")
			if err := s.fh.Sync(); err != nil {
				s.logger.Error("failed to sync leave to snapshot", "error", err)
			}

		case <-ticker.C:
			s.updateClocks()

		case <-s.shutdownCh:
			s.updateClocks()
			if err := s.fh.Sync(); err != nil {
				s.logger.Error("failed to sync snapshot", "error", err)
			}
			s.fh.Close()
			close(s.waitCh)
			return
		}
	}
}

// RecordMemberEvent appends alive/not-alive lines for a coalesced
// member event, skipping recording once a leave has been issued.
func (s *Snapshotter) RecordMemberEvent(e MemberEvent) {
	if s.leaving {
		return
	}
	switch e.Type {
	case EventMemberJoin:
		for _, m := range e.Members {
			addr := net.JoinHostPort(m.Addr.String(), strconv.Itoa(int(m.Port)))
			s.aliveNodes[m.Name] = addr
			s.tryAppend(fmt.Sprintf("alive: %s %s\n", m.Name, addr))
		}
	case EventMemberLeave, EventMemberFailed, EventMemberReap:
		for _, m := range e.Members {
			delete(s.aliveNodes, m.Name)
			s.tryAppend(fmt.Sprintf("not-alive: %s\n", m.Name))
		}
	}
	s.updateClocks()
}

// RecordUserEvent checkpoints the event clock after a new user event,
// so a restart doesn't replay events already delivered.
func (s *Snapshotter) RecordUserEvent(e UserEvent) {
	if e.LTime <= s.lastEventClock {
		return
	}
	s.lastEventClock = e.LTime
	s.tryAppend(fmt.Sprintf("event-clock: %d\n", e.LTime))
}

// removeAlive drops name from the alive set, used when the gossip layer
// authoritatively reports it dead outside of the coalesced event path.
func (s *Snapshotter) removeAlive(name string) {
	if s.leaving {
		return
	}
	if _, ok := s.aliveNodes[name]; ok {
		delete(s.aliveNodes, name)
		s.tryAppend(fmt.Sprintf("not-alive: %s\n", name))
	}
}

// updateClocks flushes the member and query clock checkpoints if they
// have advanced since the last write.
func (s *Snapshotter) updateClocks() {
	if s.serf == nil {
		return
	}
	if now := s.serf.clock.Time(); now > 0 && now-1 > s.lastClock {
		s.lastClock = now - 1
		s.tryAppend(fmt.Sprintf("clock: %d\n", s.lastClock))
	}
	if now := s.serf.queryClock.Time(); now > 0 && now-1 > s.lastQueryClock {
		s.lastQueryClock = now - 1
		s.tryAppend(fmt.Sprintf("query-clock: %d\n", s.lastQueryClock))
	}
}

// Leave marks the snapshot as left, clearing the alive set so a restart
// does not automatically rejoin the old cluster unless RejoinAfterLeave
// is set.
func (s *Snapshotter) Leave() {
	select {
	case s.leaveCh <- struct{}{}:
	case <-s.shutdownCh:
	}
}

// Shutdown blocks until the background loop has flushed and closed the
// snapshot file.
func (s *Snapshotter) Shutdown() {
	<-s.waitCh
}

func (s *Snapshotter) tryAppend(l string) {
	if err := s.appendLine(l); err != nil {
		s.logger.Error("failed to update snapshot", "error", err)
	}
}

func (s *Snapshotter) appendLine(l string) error {
	n, err := s.fh.WriteString(l)
	if err != nil {
		return err
	}

	now := time.Now()
	if now.Sub(s.lastFsync) > snapshotFsyncInterval {
		s.lastFsync = now
		if err := s.fh.Sync(); err != nil {
			return err
		}
	}

	s.offset += int64(n)
	if s.offset > s.maxSize {
		return s.compact()
	}
	return nil
}

// compact rewrites the log as just the current alive set and clock
// checkpoints, dropping the history of transitions that got there.
func (s *Snapshotter) compact() error {
	newPath := s.path + snapshotCompactSuffix
	fh, err := os.OpenFile(newPath, os.O_RDWR|os.O_TRUNC|os.O_CREATE, 0755)
	if err != nil {
		return fmt.Errorf("failed to open new snapshot: %v", err)
	}

	var offset int64
	for name, addr := range s.aliveNodes {
		n, err := fh.WriteString(fmt.Sprintf("alive: %s %s\n", name, addr))
		if err != nil {
			fh.Close()
			return err
		}
		offset += int64(n)
	}
	for _, line := range []string{
		fmt.Sprintf("clock: %d\n", s.lastClock),
		fmt.Sprintf("event-clock: %d\n", s.lastEventClock),
		fmt.Sprintf("query-clock: %d\n", s.lastQueryClock),
	} {
		n, err := fh.WriteString(line)
		if err != nil {
			fh.Close()
			return err
		}
		offset += int64(n)
	}

	if err := os.Rename(newPath, s.path); err != nil {
		fh.Close()
		return fmt.Errorf("failed to install new snapshot: %v", err)
	}

	s.fh.Close()
	s.fh = fh
	s.offset = offset
	s.lastFsync = time.Now()
	return nil
}

// replay rebuilds aliveNodes and the clock floors from the log on disk.
func (s *Snapshotter) replay() error {
	if _, err := s.fh.Seek(0, os.SEEK_SET); err != nil {
		return err
	}

	reader := bufio.NewReader(s.fh)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = line[:len(line)-1]

		switch {
		case strings.HasPrefix(line, "alive: "):
			info := strings.TrimPrefix(line, "alive: ")
			idx := strings.LastIndex(info, " ")
			if idx == -1 {
				s.logger.Warn("failed to parse snapshot address line", "line", line)
				continue
			}
			s.aliveNodes[info[:idx]] = info[idx+1:]

		case strings.HasPrefix(line, "not-alive: "):
			delete(s.aliveNodes, strings.TrimPrefix(line, "not-alive: "))

		case strings.HasPrefix(line, "clock: "):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "clock: "), 10, 64)
			if err != nil {
				s.logger.Warn("failed to parse snapshot clock", "error", err)
				continue
			}
			s.lastClock = LamportTime(v)

		case strings.HasPrefix(line, "event-clock: "):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "event-clock: "), 10, 64)
			if err != nil {
				s.logger.Warn("failed to parse snapshot event clock", "error", err)
				continue
			}
			s.lastEventClock = LamportTime(v)

		case strings.HasPrefix(line, "query-clock: "):
			v, err := strconv.ParseUint(strings.TrimPrefix(line, "query-clock: "), 10, 64)
			if err != nil {
				s.logger.Warn("failed to parse snapshot query clock", "error", err)
				continue
			}
			s.lastQueryClock = LamportTime(v)

		case line == "leave":
			if !s.rejoinAfterLeave {
				s.aliveNodes = make(map[string]string)
			}

		case strings.HasPrefix(line, "#"):
			// comment

		default:
			s.logger.Warn("unrecognized snapshot line", "line", line)
		}
	}

	if _, err := s.fh.Seek(0, os.SEEK_END); err != nil {
		return err
	}
	return nil
}
