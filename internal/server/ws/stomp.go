package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

// STOMP заголовки
const (
	hdrAcceptVersion = "accept-version"
	hdrVersion       = "version"
	hdrHeartBeat     = "heart-beat"
	hdrSession       = "session"
	hdrServer        = "server"
	hdrDestination   = "destination"
	hdrID            = "id"
	hdrReceipt       = "receipt"
	hdrReceiptID     = "receipt-id"
	hdrSubscription  = "subscription"
	hdrMessageID     = "message-id"
	hdrMessage       = "message"
	hdrContentType   = "content-type"
	hdrContentLength = "content-length"
)

const (
	serverName      = "gophchat"
	contentTypeJSON = "application/json"
)

// Subprotocols STOMP over WebSocket в порядке предпочтения
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// negotiateVersion выбирает наибольшую общую версию протокола
func negotiateVersion(acceptVersion string) string {
	if acceptVersion == "" {
		return "1.0"
	}
	versions := strings.Split(acceptVersion, ",")
	for _, v := range []string{"1.2", "1.1", "1.0"} {
		for _, offered := range versions {
			if strings.TrimSpace(offered) == v {
				return v
			}
		}
	}
	return ""
}

// readFrames разбирает все фреймы одного WebSocket сообщения.
// Heart-beat (пустые строки) пропускаются.
func readFrames(r io.Reader) ([]*frame.Frame, error) {
	rd := frame.NewReader(r)

	var frames []*frame.Frame
	for {
		f, err := rd.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("malformed frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

// readFirstFrame читает первый фрейм рукопожатия.
// Фреймы, пришедшие в том же сообщении после него, возвращаются в rest.
func readFirstFrame(conn *websocket.Conn) (first *frame.Frame, rest []*frame.Frame, err error) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		frames, err := readFrames(bytes.NewReader(data))
		if err != nil {
			return nil, nil, err
		}
		if len(frames) == 0 {
			// только heart-beat, ждем CONNECT дальше
			continue
		}
		return frames[0], frames[1:], nil
	}
}

// writeFrame кодирует фрейм в одно WebSocket сообщение
func writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	if len(f.Body) > 0 {
		f.Header.Set(hdrContentLength, strconv.Itoa(len(f.Body)))
	}

	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := frame.NewWriter(w).Write(f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func errorFrame(message string) *frame.Frame {
	return frame.New(frame.ERROR, hdrMessage, message)
}

func receiptFrame(receiptID string) *frame.Frame {
	return frame.New(frame.RECEIPT, hdrReceiptID, receiptID)
}
