package handlers

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultMaxLogResults = 100

var (
	timeRegex  = regexp.MustCompile(`time=(\S+)`)
	levelRegex = regexp.MustCompile(`level=(\S+)`)
	// slog only quotes messages that need it
	msgRegex = regexp.MustCompile(`msg=("(?:[^"\\]|\\.)*"|\S+)`)
)

// LogsHandler pages through the daemon log file.
type LogsHandler struct {
	logFilePath string
}

func NewLogsHandler(logFilePath string) *LogsHandler {
	return &LogsHandler{
		logFilePath: logFilePath,
	}
}

// GetLogs returns up to maxResults entries starting at the byte offset
// startingToken.
func (h *LogsHandler) GetLogs(c *gin.Context) {
	var params LogsRequest
	if err := c.ShouldBindQuery(&params); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeBadRequest, err)
		return
	}

	if params.MaxResults == 0 {
		params.MaxResults = defaultMaxLogResults
	}

	logs, nextToken, hasMore, err := h.readLogsFromFile(params.StartingToken, params.MaxResults)
	if err != nil {
		AbortWithError(c, http.StatusInternalServerError, ErrCodeLogsRetrievalFailed, err)
		return
	}

	c.PureJSON(http.StatusOK, &LogsResponse{
		Logs:      logs,
		NextToken: nextToken,
		HasMore:   hasMore,
	})
}

func (h *LogsHandler) readLogsFromFile(startingToken int64, maxResults int) ([]LogEntry, int64, bool, error) {
	file, err := os.Open(h.logFilePath)
	if errors.Is(err, os.ErrNotExist) {
		return []LogEntry{}, 0, false, nil
	} else if err != nil {
		return nil, 0, false, err
	}
	defer file.Close()

	if startingToken > 0 {
		if _, err := file.Seek(startingToken, io.SeekStart); err != nil {
			return nil, 0, false, err
		}
	}

	logs := []LogEntry{}
	offset := startingToken
	reader := bufio.NewReader(file)

	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// a partial last line is read again on the next request
			break
		} else if err != nil {
			return nil, 0, false, err
		}

		if len(logs) == maxResults {
			return logs, offset, true, nil
		}
		offset += int64(len(line))

		if entry, ok := parseLogLine(strings.TrimRight(line, "\r\n")); ok {
			logs = append(logs, entry)
		}
	}

	return logs, offset, false, nil
}

func parseLogLine(line string) (LogEntry, bool) {
	timeMatch := timeRegex.FindStringSubmatch(line)
	levelMatch := levelRegex.FindStringSubmatch(line)
	msgMatch := msgRegex.FindStringSubmatchIndex(line)
	if timeMatch == nil || levelMatch == nil || msgMatch == nil {
		return LogEntry{}, false
	}

	var level LogLevel
	switch strings.ToLower(levelMatch[1]) {
	case "debug":
		level = LogLevelDebug
	case "warn", "warning":
		level = LogLevelWarn
	case "error":
		level = LogLevelError
	default:
		level = LogLevelInfo
	}

	message := line[msgMatch[2]:msgMatch[3]]
	if unquoted, err := strconv.Unquote(message); err == nil {
		message = unquoted
	}
	if rest := strings.TrimSpace(line[msgMatch[1]:]); rest != "" {
		message += " " + rest
	}

	return LogEntry{
		Timestamp: timeMatch[1],
		Level:     level,
		Message:   message,
	}, true
}
