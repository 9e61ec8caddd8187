package checkpoint

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"
)

// Store persists the highest binlog position translated so far. The file
// holds "binlog-file:offset" on the first line and the last GTID, if any, on
// the second.
type Store struct {
	mu       sync.Mutex
	path     string
	position mysql.Position
	gtid     string
	logger   *logrus.Logger
}

// NewStore opens the checkpoint at path. A missing file is an empty checkpoint.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position file: %w", err)
	}

	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if lines[0] == "" {
		return s, nil
	}

	pos, err := ParsePosition(lines[0])
	if err != nil {
		// Fallback to old format (just filename)
		pos = mysql.Position{Name: lines[0]}
	}
	s.position = pos
	if len(lines) > 1 {
		s.gtid = strings.TrimSpace(lines[1])
	}

	logger.Infof("Loaded binlog position from file: %s:%d", s.position.Name, s.position.Pos)
	return s, nil
}

// ParsePosition parses a Maxwell "position" value such as "mysql-bin.000003:1200"
func ParsePosition(s string) (mysql.Position, error) {
	// last colon, in case the file name contains one
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return mysql.Position{}, fmt.Errorf("invalid binlog position %q", s)
	}
	pos, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return mysql.Position{}, fmt.Errorf("invalid binlog position %q: %w", s, err)
	}
	return mysql.Position{Name: s[:i], Pos: uint32(pos)}, nil
}

// Position returns the saved position
func (s *Store) Position() mysql.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// GTID returns the saved GTID, empty when none was seen
func (s *Store) GTID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gtid
}

// Save records position (and gtid, when not empty) if it is ahead of the
// saved position. It reports whether the file was written.
func (s *Store) Save(position, gtid string) (bool, error) {
	if position == "" {
		return false, nil
	}
	pos, err := ParsePosition(position)
	if err != nil {
		return false, err
	}
	if gtid != "" {
		if _, err := mysql.ParseGTIDSet(mysql.MySQLFlavor, gtid); err != nil {
			return false, fmt.Errorf("invalid gtid %q: %w", gtid, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.position.Name != "" && pos.Compare(s.position) <= 0 {
		return false, nil
	}

	content := fmt.Sprintf("%s:%d", pos.Name, pos.Pos)
	if gtid == "" {
		gtid = s.gtid
	}
	if gtid != "" {
		content += "\n" + gtid
	}
	if err := os.WriteFile(s.path, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("failed to save position: %w", err)
	}

	s.position = pos
	s.gtid = gtid
	return true, nil
}
