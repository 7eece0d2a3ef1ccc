package mqtt

// FakePublisher records published payloads for test assertions.
type FakePublisher struct {
	// Telemetry contains all telemetry payloads that were published.
	Telemetry [][]byte

	// Alerts contains all alert payloads that were published.
	Alerts [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by every publish method.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	handler    func(Command)
	envHandler func(Environment)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTelemetry records the telemetry payload.
func (f *FakePublisher) PublishTelemetry(payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Telemetry = append(f.Telemetry, payload)
	return nil
}

// PublishAlert records the alert payload.
func (f *FakePublisher) PublishAlert(payload []byte) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Alerts = append(f.Alerts, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishError != nil {
		return f.PublishError
	}
	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// SubscribeCommands records the handler for later injection.
func (f *FakePublisher) SubscribeCommands(handler func(Command)) error {
	f.handler = handler
	return nil
}

// InjectCommand delivers a command to the subscribed handler, as if it had
// arrived on the command topic.
func (f *FakePublisher) InjectCommand(cmd Command) {
	if f.handler != nil {
		f.handler(cmd)
	}
}

// SubscribeEnvironment records the handler for later injection.
func (f *FakePublisher) SubscribeEnvironment(handler func(Environment)) error {
	f.envHandler = handler
	return nil
}

// InjectEnvironment delivers an environment reading to the subscribed
// handler.
func (f *FakePublisher) InjectEnvironment(env Environment) {
	if f.envHandler != nil {
		f.envHandler(env)
	}
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Telemetry = nil
	f.Alerts = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.Connected = false
	f.handler = nil
	f.envHandler = nil
}
