package session

// eventKind enumerates everything that can enter the orchestrator's queue.
type eventKind int

const (
	evIdentity eventKind = iota
	evChannel
	evCall
	evDialTimeout
	evCaptureResult
	evLocalEnded
	evRemoteEnded
	evConnect
	evDisconnect
	evStartShare
	evStopShare
	evReconnect
	evShutdown
)

var eventNames = map[eventKind]string{
	evIdentity:      "identity",
	evChannel:       "channel",
	evCall:          "call",
	evDialTimeout:   "dial-timeout",
	evCaptureResult: "capture-result",
	evLocalEnded:    "local-track-ended",
	evRemoteEnded:   "remote-track-ended",
	evConnect:       "connect",
	evDisconnect:    "disconnect",
	evStartShare:    "start-share",
	evStopShare:     "stop-share",
	evReconnect:     "reconnect",
	evShutdown:      "shutdown",
}

func (k eventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// event is one queued input. gen identifies the tracked object (identity,
// channel, call, stream or capture attempt) the event belongs to; handlers
// compare it against the live slot before acting.
type event struct {
	kind   eventKind
	gen    uint64
	peer   string
	reason string

	identity IdentityEvent
	channel  ChannelEvent
	call     CallEvent
	stream   MediaStream
	err      error
}

type handlerFunc func(*Orchestrator, event)

// transitions maps every event kind to the single handler allowed to react to
// it. Handlers run to completion on the loop goroutine.
var transitions = map[eventKind]handlerFunc{
	evIdentity:      (*Orchestrator).onIdentity,
	evChannel:       (*Orchestrator).onChannel,
	evCall:          (*Orchestrator).onCall,
	evDialTimeout:   (*Orchestrator).onDialTimeout,
	evCaptureResult: (*Orchestrator).onCaptureResult,
	evLocalEnded:    (*Orchestrator).onLocalEnded,
	evRemoteEnded:   (*Orchestrator).onRemoteEnded,
	evConnect:       (*Orchestrator).onConnect,
	evDisconnect:    (*Orchestrator).onDisconnect,
	evStartShare:    (*Orchestrator).onStartShare,
	evStopShare:     (*Orchestrator).onStopShare,
	evReconnect:     (*Orchestrator).onReconnect,
	evShutdown:      (*Orchestrator).onShutdown,
}
