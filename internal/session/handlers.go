package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/screenshare/internal/control"
)

func (o *Orchestrator) startIdentity(status string) {
	gen := o.nextGen()
	ident := o.identity.start(gen)
	o.setStatus(status, LevelWarning)
	o.watchIdentity(gen, ident)
}

func (o *Orchestrator) onIdentity(ev event) {
	if !o.identity.owns(ev.gen) {
		return
	}

	ie := ev.identity
	switch ie.Kind {
	case IdentityOpened:
		o.identity.opened(ie.ID)
		o.log.WithFields(logrus.Fields{
			"function": "onIdentity",
			"peer_id":  ie.ID,
		}).Info("Identity registered")
		if !o.channels.isOpen() {
			o.setStatus("Waiting for connection...", LevelIdle)
		}

	case IdentityDisconnected:
		o.identity.disconnected()
		o.setStatus("Signal disconnected. Attempting reconnect...", LevelWarning)

	case IdentityClosed:
		// Destroying the identity takes its channels and calls down without
		// reporting them, so the cascade runs here.
		if o.channels.close() != nil || o.calls.any() || o.local != nil || o.remote != nil {
			o.channelLost()
		}
		o.identity.closed()
		o.report(KindIdentityUnavailable, "Signal closed. Click Reconnect Signal.", LevelError)

	case IdentityError:
		o.identityFailed(ie)

	case IdentityIncomingChannel:
		if ie.Channel != nil {
			o.attachChannel(ie.Channel, Incoming)
		}

	case IdentityIncomingCall:
		if ie.Call != nil {
			o.admitCall(ie.Call)
		}
	}
}

func (o *Orchestrator) identityFailed(ie IdentityEvent) {
	switch ie.Err {
	case KindPeerUnreachable:
		o.report(KindPeerUnreachable, "Friend ID not found or currently offline.", LevelError)
		o.info = "Check the friend's peer ID and try again."
		if cur := o.channels.current; cur != nil && !cur.open() && (ie.Peer == "" || ie.Peer == cur.remote) {
			o.channels.close()
		}

	case KindIdentityUnavailable:
		o.report(KindIdentityUnavailable, "Signaling service unreachable. Check internet/firewall, then reconnect.", LevelError)
		o.info = "Signaling server unreachable."
		if o.identity.notifyUnavailable() {
			o.alert("The signaling service is unreachable right now. Check your network, then click 'Reconnect Signal'.")
		}

	case KindChannelTransportError:
		o.report(KindChannelTransportError, "P2P setup failed. Check firewall/NAT and retry.", LevelError)
		o.info = "P2P transport could not be established."

	default:
		o.report(ie.Err, fmt.Sprintf("Peer error (%s): %s", ie.Err, ie.Message), LevelError)
	}
}

func (o *Orchestrator) onConnect(ev event) {
	remote := ev.peer
	err := o.channels.checkDial(o.identity.id, o.identity.ready && o.identity.current != nil, remote)
	switch {
	case errors.Is(err, ErrIdentityNotReady):
		o.toast("Peer is not ready yet.")
		return
	case errors.Is(err, ErrEmptyPeerID):
		o.toast("Enter your friend's peer ID.")
		return
	case errors.Is(err, ErrSelfDial):
		o.toast("Use a different peer ID.")
		return
	case errors.Is(err, ErrAlreadyOpen):
		o.setStatus("Already connected to this peer.", LevelOK)
		return
	case errors.Is(err, ErrAlreadyDialing):
		o.setStatus(fmt.Sprintf("Still dialing %s...", remote), LevelWarning)
		return
	}

	o.setStatus(fmt.Sprintf("Connecting to %s...", remote), LevelWarning)
	o.info = fmt.Sprintf("Dialing %s...", remote)

	handle, err := o.identity.current.Dial(remote, DialOptions{
		Reliable:      true,
		Serialization: "json",
		Metadata:      map[string]string{"app": control.App, "role": string(Outgoing)},
	})
	if err != nil {
		o.report(KindChannelTransportError, fmt.Sprintf("Failed to open connection: %v", err), LevelError)
		return
	}
	o.attachChannel(handle, Outgoing)
}

// attachChannel arbitrates a new channel against the current slot.
func (o *Orchestrator) attachChannel(handle Channel, dir Direction) {
	candidate := newControlChannel(o.nextGen(), handle, dir)
	prev := o.channels.current

	installed, superseded := o.channels.install(candidate, o.identity.id, o.dialTimedOut)
	entry := o.log.WithFields(logrus.Fields{
		"function":  "attachChannel",
		"peer":      candidate.remote,
		"token":     candidate.token,
		"direction": dir,
	})
	if !installed {
		entry.Debug("Channel lost arbitration")
		if prev != nil && prev.remote != candidate.remote {
			if dir == Incoming {
				o.setStatus("Rejected extra incoming connection from another peer.", LevelWarning)
			} else {
				o.setStatus(fmt.Sprintf("Already connected to %s. Disconnect first.", prev.remote), LevelWarning)
			}
		}
		return
	}
	entry.Debug("Channel installed")

	if superseded != nil && superseded.remote != candidate.remote {
		o.dropMedia()
	}
	if dir == Incoming {
		o.setStatus(fmt.Sprintf("Incoming connection from %s...", candidate.remote), LevelWarning)
		o.info = fmt.Sprintf("Establishing data channel with %s...", candidate.remote)
	}
	if candidate.open() {
		o.channelOpened()
	}
	o.watchChannel(candidate.gen, handle)
}

func (o *Orchestrator) onDialTimeout(ev event) {
	expired := o.channels.expire(ev.gen)
	if expired == nil {
		return
	}
	o.report(KindChannelTimeout, fmt.Sprintf("Could not establish P2P channel with %s.", expired.remote), LevelError)
	o.info = "Dial timed out. Ensure both apps are online, then click Connect again."
}

func (o *Orchestrator) onChannel(ev event) {
	if !o.channels.isCurrent(ev.gen) {
		return
	}
	cur := o.channels.current

	switch ev.channel.Kind {
	case ChannelOpened:
		if o.channels.opened(ev.gen) {
			o.channelOpened()
		}

	case ChannelData:
		if cur.open() {
			o.receive(ev.channel.Data)
		}

	case ChannelClosed:
		o.channels.release()
		o.channelLost()

	case ChannelFailed:
		msg := fmt.Sprintf("Data connection error: %s", describe(ev.channel.Message))
		if cur.open() {
			o.channels.close()
			o.channelLost()
		} else {
			o.channels.close()
			o.info = "Connection failed. Try Connect again."
		}
		o.report(KindChannelTransportError, msg, LevelError)
	}
}

// channelOpened runs once the current channel reached open.
func (o *Orchestrator) channelOpened() {
	cur := o.channels.current
	o.log.WithFields(logrus.Fields{
		"function": "channelOpened",
		"peer":     cur.remote,
		"token":    cur.token,
	}).Info("Control channel open")
	o.setStatus(fmt.Sprintf("Connected to %s", cur.remote), LevelOK)
	o.info = fmt.Sprintf("Data channel open with %s", cur.remote)
	o.send(control.Presence(o.local != nil))
	if o.local != nil && o.calls.outgoing == nil {
		o.placeOutgoing()
	}
}

// syncOpen catches up with a current channel the library opened before its
// open event reached the queue.
func (o *Orchestrator) syncOpen() {
	cur := o.channels.current
	if cur == nil || cur.open() || !cur.handle.Open() {
		return
	}
	if o.channels.opened(cur.gen) {
		o.channelOpened()
	}
}

// channelLost invalidates every call and stream after the current channel
// went away. An in-progress share is ended rather than left dangling.
func (o *Orchestrator) channelLost() {
	o.info = "Waiting for connection..."
	o.dropMedia()
	o.friendSharing = false
	o.stopShare("Connection lost. Sharing stopped.", true)
	o.setStatus("Waiting for connection...", LevelIdle)
}

func (o *Orchestrator) dropMedia() {
	o.calls.closeAll()
	o.remote = nil
}

func (o *Orchestrator) send(msg control.Message) {
	cur := o.channels.current
	if cur == nil || !cur.open() {
		o.log.WithFields(logrus.Fields{
			"function": "send",
			"type":     msg.Type,
		}).Debug("Dropping control message, no open channel")
		return
	}
	data, err := control.Encode(msg, o.clock.Now())
	if err != nil {
		o.log.WithFields(logrus.Fields{
			"function": "send",
			"error":    err.Error(),
		}).Error("Failed to encode control message")
		return
	}
	if err := cur.handle.Send(data); err != nil {
		o.log.WithFields(logrus.Fields{
			"function": "send",
			"type":     msg.Type,
			"error":    err.Error(),
		}).Warn("Failed to send control message")
	}
}

func (o *Orchestrator) receive(data []byte) {
	msg, ok := control.Decode(data)
	if !ok {
		return
	}

	switch msg.Type {
	case control.TypePresence:
		o.friendSharing = msg.IsSharing() || o.remote != nil
	case control.TypeSharingStarted:
		o.friendSharing = true
		o.setStatus("Friend started sharing. Waiting for stream...", LevelWarning)
	case control.TypeSharingStopped:
		// A live inbound stream reports its own end.
		if o.remote != nil {
			return
		}
		o.friendSharing = false
		if o.local != nil {
			o.setStatus("Streaming Live", LevelOK)
		} else {
			o.setStatus("Connected. Not sharing.", LevelWarning)
		}
	}
}

func (o *Orchestrator) admitCall(handle Call) {
	o.syncOpen()
	call := newMediaCall(o.nextGen(), handle, Incoming)

	var local MediaStream
	if o.local != nil {
		local = o.local.stream
	}
	if err := o.calls.admit(call, o.channels, local); err != nil {
		if KindOf(err) == KindCallRejectedUntrusted {
			o.report(KindCallRejectedUntrusted, fmt.Sprintf("Blocked call from %s: no active trusted data connection.", call.remote), LevelWarning)
			return
		}
		o.report(KindCallTransportError, fmt.Sprintf("Failed to answer incoming call: %v", cause(err)), LevelError)
		return
	}
	o.watchCall(call.gen, handle)
}

func (o *Orchestrator) placeOutgoing() {
	cur := o.channels.current
	if o.local == nil || cur == nil || !cur.open() || !o.identity.ready {
		return
	}

	o.info = fmt.Sprintf("Calling %s with your stream...", cur.remote)
	call, err := o.calls.place(o.identity.current, o.channels, cur.remote, o.local.stream, o.nextGen())
	if err != nil {
		o.report(KindCallTransportError, fmt.Sprintf("Failed to place media call: %v", cause(err)), LevelError)
		return
	}
	o.watchCall(call.gen, call.handle)
}

func (o *Orchestrator) onCall(ev event) {
	call := o.calls.lookup(ev.gen)
	if call == nil {
		return
	}

	switch ev.call.Kind {
	case CallStream:
		if ev.call.Stream == nil || call.state.terminal() {
			return
		}
		call.transition(CallActive)
		o.setRemote(ev.call.Stream, call)
		if o.local != nil {
			o.setStatus("Streaming live and receiving remote stream.", LevelOK)
			o.info = fmt.Sprintf("Two-way media active with %s", call.remote)
		} else {
			o.setStatus("Receiving remote stream.", LevelOK)
			o.info = fmt.Sprintf("Receiving %s's stream", call.remote)
		}

	case CallClosed:
		o.calls.finish(ev.gen, CallClosedState)
		o.clearRemoteFrom(ev.gen)
		if call.direction == Incoming && o.channels.isOpen() {
			if o.local != nil {
				o.setStatus("Streaming live.", LevelWarning)
			} else {
				o.setStatus("Connected. Waiting for friend stream.", LevelWarning)
			}
		}
		if call.direction == Outgoing && o.local != nil && o.channels.current != nil {
			o.info = fmt.Sprintf("Connected to %s (stream sent)", o.channels.current.remote)
		}

	case CallFailed:
		o.calls.finish(ev.gen, CallErrored)
		o.clearRemoteFrom(ev.gen)
		o.report(KindCallTransportError, fmt.Sprintf("Media call error: %s", describe(ev.call.Message)), LevelError)
	}
}

func (o *Orchestrator) setRemote(stream MediaStream, call *MediaCall) {
	if o.remote != nil && o.remote.stream == stream {
		return
	}
	o.remote = &streamSlot{gen: o.nextGen(), stream: stream, callGen: call.gen, peer: call.remote}
	o.friendSharing = true
	o.watchEnded(evRemoteEnded, o.remote.gen, stream)
}

func (o *Orchestrator) clearRemoteFrom(callGen uint64) {
	if o.remote != nil && o.remote.callGen == callGen {
		o.remote = nil
	}
}

func (o *Orchestrator) onRemoteEnded(ev event) {
	if o.remote == nil || o.remote.gen != ev.gen {
		return
	}
	o.remote = nil
	if !o.channels.isOpen() {
		return
	}
	if o.local != nil {
		o.setStatus("Streaming Live", LevelOK)
	} else {
		o.setStatus("Connected. Waiting for friend stream.", LevelWarning)
	}
}

func (o *Orchestrator) onStartShare(event) {
	if !o.channels.isOpen() {
		o.alert("Connect to a friend before starting screen share.")
		return
	}
	if o.local != nil {
		o.toast("You are already sharing.")
		return
	}
	if o.selecting != 0 {
		o.toast("Screen selection is already open.")
		return
	}

	o.setStatus("Waiting for screen selection...", LevelWarning)
	gen := o.nextGen()
	o.selecting = gen

	ctx, provider, constraints := o.ctx, o.capture, o.constraints
	o.async(func() {
		stream, err := provider.Acquire(ctx, constraints)
		o.post(event{kind: evCaptureResult, gen: gen, stream: stream, err: err})
	})
}

func (o *Orchestrator) onCaptureResult(ev event) {
	if ev.gen != o.selecting {
		if ev.stream != nil {
			ev.stream.Stop()
		}
		return
	}
	o.selecting = 0

	err := ev.err
	if err == nil && ev.stream == nil {
		err = ErrNoSourceFound
	}
	if err != nil {
		o.captureFailed(err)
		return
	}

	stream := ev.stream
	if !stream.HasAudio() {
		stream.Stop()
		o.alert("You forgot to check 'Share System Audio'. Please try again.")
		o.report(KindCaptureMissingAudio, "Share canceled: system audio was not enabled.", LevelWarning)
		return
	}

	cur := o.channels.current
	if cur == nil || !cur.open() {
		stream.Stop()
		o.setStatus("Share canceled: connection lost during screen selection.", LevelWarning)
		return
	}

	o.local = &streamSlot{gen: o.nextGen(), stream: stream}
	o.watchEnded(evLocalEnded, o.local.gen, stream)
	o.log.WithFields(logrus.Fields{
		"function": "onCaptureResult",
		"stream":   stream.ID(),
		"peer":     cur.remote,
	}).Info("Sharing started")

	o.setStatus("Streaming Live", LevelOK)
	o.info = fmt.Sprintf("Connected to %s. Stream is live.", cur.remote)
	o.send(control.SharingStarted())
	o.view.RequestMinimize()
	o.placeOutgoing()
}

func (o *Orchestrator) captureFailed(err error) {
	switch kind := KindOf(err); kind {
	case KindCapturePermissionDenied:
		o.report(kind, "Screen share was canceled or blocked by permissions.", LevelWarning)
	case KindCaptureSourceNotFound:
		o.report(kind, "No screen/audio source found.", LevelError)
	default:
		o.report(KindUnknown, fmt.Sprintf("Failed to start screen share: %v", err), LevelError)
	}
}

func (o *Orchestrator) onStopShare(ev event) {
	o.stopShare(ev.reason, true)
}

func (o *Orchestrator) onLocalEnded(ev event) {
	if o.local == nil || o.local.gen != ev.gen {
		return
	}
	o.stopShare("Capture ended by user from picker.", true)
}

// stopShare ends the local capture. The outgoing call goes with it whatever
// the channel state; the restore intent is issued once per share.
func (o *Orchestrator) stopShare(reason string, restore bool) {
	if o.local == nil {
		return
	}
	slot := o.local
	o.local = nil
	slot.stream.Stop()
	o.calls.closeOutgoing()
	o.send(control.SharingStopped(reason))

	o.log.WithFields(logrus.Fields{
		"function": "stopShare",
		"reason":   reason,
	}).Info("Sharing stopped")

	if cur := o.channels.current; cur != nil && cur.open() {
		if o.remote != nil {
			o.setStatus("Connected. Local stream stopped.", LevelWarning)
		} else {
			o.setStatus("Connected. Not sharing.", LevelWarning)
		}
		o.info = fmt.Sprintf("Connected to %s", cur.remote)
	} else {
		o.setStatus("Waiting for connection...", LevelIdle)
		o.info = "Waiting for connection..."
	}

	if restore {
		o.view.RequestRestore()
	}
}

func (o *Orchestrator) onDisconnect(event) {
	o.selecting = 0
	o.stopShare("Disconnected by user.", true)
	o.dropMedia()
	o.friendSharing = false
	o.channels.close()

	o.info = "Waiting for connection..."
	o.setStatus("Disconnected. Waiting for connection...", LevelIdle)
}

func (o *Orchestrator) onReconnect(event) {
	o.teardown(true)
	o.startIdentity("Reconnecting signal server...")
	o.info = "Waiting for connection..."
}

func (o *Orchestrator) onShutdown(event) {
	o.teardown(false)
}

// teardown releases every slot and the identity object itself, in order:
// channel, calls, remote stream, local capture, identity.
func (o *Orchestrator) teardown(restore bool) {
	o.channels.close()
	o.calls.closeAll()
	o.remote = nil
	o.friendSharing = false
	o.selecting = 0

	wasSharing := o.local != nil
	if o.local != nil {
		o.local.stream.Stop()
		o.local = nil
	}

	o.identity.destroy()

	if restore && wasSharing {
		o.view.RequestRestore()
	}
}

// cause strips the session classification off err for display.
func cause(err error) error {
	if inner := errors.Unwrap(err); inner != nil {
		return inner
	}
	return err
}

func describe(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
