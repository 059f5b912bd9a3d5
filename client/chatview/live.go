package chatview

import (
	"encoding/json"
	"time"

	"PropChat/module/chat/api"

	"github.com/gorilla/websocket"
)

func (v *View) readLoop(ws *websocket.Conn) {
	defer v.wg.Done()
	defer v.update(func() { v.connected, v.joined = false, false })

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-v.closed:
			default:
				v.update(func() { v.lastErr = err.Error() })
			}
			return
		}
		var f api.Frame
		if json.Unmarshal(raw, &f) != nil {
			continue
		}
		v.handle(f)
	}
}

func (v *View) handle(f api.Frame) {
	switch f.Event {
	case api.EvChatHistory:
		var msgs []api.Message
		if json.Unmarshal(f.Data, &msgs) != nil {
			return
		}
		v.update(func() {
			v.joined = true
			for _, m := range msgs {
				v.mergeLocked(m)
			}
		})

	case api.EvReceiveMessage:
		var m api.Message
		if json.Unmarshal(f.Data, &m) != nil || m.ChatID != "" && m.ChatID != v.cfg.ChatID {
			return
		}
		v.update(func() {
			v.mergeLocked(m)
			// 对方发了消息，输入提示随之结束
			v.stopTypingLocked()
		})

	case api.EvMessageAck:
		var m api.Message
		if json.Unmarshal(f.Data, &m) != nil {
			return
		}
		v.update(func() {
			if local, ok := v.popLiveLocked(); ok {
				v.confirmLocked(local, m)
				return
			}
			v.mergeLocked(m)
		})

	case api.EvUserTyping:
		v.update(v.startTypingLocked)

	case api.EvError:
		var text string
		_ = json.Unmarshal(f.Data, &text)
		v.update(func() {
			v.lastErr = text
			if f.Re != api.EvSendMessage {
				return
			}
			// 实时发送按顺序处理，错误对应最早一条未确认的
			if local, ok := v.popLiveLocked(); ok {
				v.failLocked(local, text)
			}
		})
	}
}

func (v *View) startTypingLocked() {
	v.peerTyping = true
	if v.typingTimer != nil {
		v.typingTimer.Stop()
	}
	v.typingTimer = time.AfterFunc(v.cfg.TypingTTL, func() {
		v.update(v.stopTypingLocked)
	})
}

func (v *View) stopTypingLocked() {
	v.peerTyping = false
	if v.typingTimer != nil {
		v.typingTimer.Stop()
		v.typingTimer = nil
	}
}
