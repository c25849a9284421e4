package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
)

const (
	newAssignmentWindow  = 24 * time.Hour
	staleConversationAge = 168 * time.Hour

	langEn     = "en"
	langKn     = "kn"
	localeEnUS = "en-US"
	localeKnIN = "kn-IN"

	declineText = "Sorry, I am not available at the moment. Please chat with another doctor."
)

// ChatStore is the backend REST surface consumed by the session.
type ChatStore interface {
	History(ctx context.Context, patientID, doctorID string) ([]domain.Message, error)
	Append(ctx context.Context, msg domain.Message) error
	UpdatePatient(ctx context.Context, patientID string, update domain.PatientUpdate) error
	NotifyAdmin(ctx context.Context, n domain.AdminNotification) error
	Alerts(ctx context.Context, patientID string) ([]domain.Alert, error)
}

// Subscription delivers realtime events for one room until closed.
type Subscription interface {
	Messages() <-chan domain.Message
	Alerts() <-chan domain.Alert
	Close() error
}

// Channel is the realtime transport scoped to conversation rooms.
type Channel interface {
	Join(ctx context.Context, room domain.Room) (Subscription, error)
	Publish(ctx context.Context, room domain.Room, msg domain.Message) error
}

// SpeechEngine bundles the external transcription, translation, and
// speech-synthesis capabilities.
type SpeechEngine interface {
	Transcribe(ctx context.Context, audio []byte, locale, userID string) (text, audioURL string, err error)
	Translate(ctx context.Context, text, source, target string) (string, error)
	Synthesize(ctx context.Context, text, locale string) (string, error)
}

// Directory resolves patient and assignment records.
type Directory interface {
	Assignments(ctx context.Context, doctorID string) ([]domain.Assignment, error)
	PatientLanguage(ctx context.Context, patientID string) (string, error)
}

// AudioProber checks whether a stored audio URL is still reachable.
type AudioProber interface {
	Probe(ctx context.Context, url string) error
}

// Hooks receive session state changes. Nil fields are skipped. Hooks are
// invoked without the session lock held, so they may call back into the
// session.
type Hooks struct {
	TimelineChanged func()
	PromptPending   func(patientID string)
	AlertReceived   func(domain.Alert)
	Error           func(err error)
}

// Session owns one doctor's chat state: the assignment roster, the active
// conversation's timeline, the engagement prompt, and missed-dose alerts.
// All mutation happens under one lock; async completions carry the generation
// observed when they were issued and are discarded if the active conversation
// has changed since (stale-response suppression).
type Session struct {
	store     ChatStore
	channel   Channel
	speech    SpeechEngine
	directory Directory
	prober    AudioProber
	hooks     Hooks
	logger    *slog.Logger
	doctor    domain.Doctor

	now func() time.Time

	mu       sync.Mutex
	gen      uint64
	roster   []domain.Assignment
	active   *domain.ConversationContext
	timeline []domain.Message
	alerts   []domain.Alert
	prompt   string // patientID of the pending engagement prompt, "" if none
	sub      Subscription
}

type Option func(*Session)

func WithHooks(h Hooks) Option {
	return func(s *Session) { s.hooks = h }
}

func WithProber(p AudioProber) Option {
	return func(s *Session) { s.prober = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock overrides the time source used by timestamps and the engagement
// prompt rules.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// New creates a Session for the given doctor.
func New(store ChatStore, channel Channel, speech SpeechEngine, directory Directory, doctor domain.Doctor, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, errors.New("session: chat store must not be nil")
	}
	if channel == nil {
		return nil, errors.New("session: realtime channel must not be nil")
	}
	if speech == nil {
		return nil, errors.New("session: speech engine must not be nil")
	}
	if directory == nil {
		return nil, errors.New("session: directory must not be nil")
	}
	if strings.TrimSpace(doctor.UID) == "" || strings.TrimSpace(doctor.DoctorID) == "" {
		return nil, errors.New("session: doctor uid and doctorId are required")
	}
	s := &Session{
		store:     store,
		channel:   channel,
		speech:    speech,
		directory: directory,
		doctor:    doctor,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadRoster fetches the doctor's assignment list and replaces the current
// roster.
func (s *Session) LoadRoster(ctx context.Context) ([]domain.Assignment, error) {
	assignments, err := s.directory.Assignments(ctx, s.doctor.DoctorID)
	if err != nil {
		return nil, newError(ErrorNetwork, "roster_fetch_error", err)
	}
	s.mu.Lock()
	s.roster = assignments
	s.mu.Unlock()
	return append([]domain.Assignment(nil), assignments...), nil
}

// Open switches the session to the given assignment's conversation. Any
// previous subscription is released, in-flight work for the previous context
// is fenced off, and the history fetch, language lookup, and alert fetch are
// issued concurrently. Open returns once the realtime room is joined; the
// fetches complete in the background and surface through the hooks.
func (s *Session) Open(ctx context.Context, a domain.Assignment) error {
	if strings.TrimSpace(a.PatientID) == "" || strings.TrimSpace(a.DoctorID) == "" {
		return newError(ErrorPrecondition, "missing_conversation_ids", nil)
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	s.active = &domain.ConversationContext{
		PatientID:          a.PatientID,
		DoctorID:           a.DoctorID,
		PatientName:        a.PatientName,
		Age:                a.Age,
		Sex:                a.Sex,
		LanguagePreference: langEn,
		AssignedAt:         a.AssignedAt,
	}
	s.timeline = nil
	s.alerts = nil
	s.prompt = ""
	room := s.active.Room()
	s.mu.Unlock()

	sub, err := s.channel.Join(ctx, room)
	if err != nil {
		return newError(ErrorNetwork, "join_room_error", err)
	}

	s.mu.Lock()
	if gen != s.gen {
		// A newer Open superseded this one while the join was in flight.
		s.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	go s.consume(sub, gen)
	go s.loadHistory(ctx, a, gen)
	go s.loadLanguage(ctx, a.PatientID, gen)
	go s.loadAlerts(ctx, a.PatientID, gen)
	return nil
}

// Close releases the realtime subscription and fences any in-flight work.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = nil
	s.timeline = nil
	s.alerts = nil
	s.prompt = ""
	if s.sub != nil {
		err := s.sub.Close()
		s.sub = nil
		return err
	}
	return nil
}

func (s *Session) loadHistory(ctx context.Context, a domain.Assignment, gen uint64) {
	msgs, err := s.store.History(ctx, a.PatientID, a.DoctorID)
	switch {
	case errors.Is(err, domain.ErrNoHistory):
		s.mu.Lock()
		fired := false
		if gen == s.gen {
			s.timeline = nil
			// On an empty conversation only the new-assignment rule applies.
			if s.now().Sub(a.AssignedAt) <= newAssignmentWindow && s.prompt == "" {
				s.prompt = a.PatientID
				fired = true
			}
		}
		s.mu.Unlock()
		if fired {
			s.firePrompt(a.PatientID)
		}
	case err != nil:
		s.fireError(newError(ErrorNetwork, "history_fetch_error", err))
	default:
		msgs = s.probeAudio(ctx, msgs)
		s.mu.Lock()
		changed, fired := false, false
		if gen == s.gen {
			s.timeline = mergeMessages(s.timeline, msgs...)
			changed = true
			fired = s.evaluatePromptLocked()
		}
		pid := a.PatientID
		s.mu.Unlock()
		if changed {
			s.fireTimeline()
		}
		if fired {
			s.firePrompt(pid)
		}
	}
}

func (s *Session) loadLanguage(ctx context.Context, patientID string, gen uint64) {
	lang, err := s.directory.PatientLanguage(ctx, patientID)
	if err != nil {
		s.fireError(newError(ErrorNetwork, "language_fetch_error", err))
		return
	}
	s.mu.Lock()
	if gen == s.gen && s.active != nil {
		s.active.LanguagePreference = lang
	}
	s.mu.Unlock()
}

func (s *Session) loadAlerts(ctx context.Context, patientID string, gen uint64) {
	alerts, err := s.store.Alerts(ctx, patientID)
	if err != nil {
		s.fireError(newError(ErrorNetwork, "alerts_fetch_error", err))
		return
	}
	for i := range alerts {
		if alerts[i].ID == "" {
			alerts[i].ID = uuid.NewString()
		}
	}
	s.mu.Lock()
	if gen == s.gen {
		s.alerts = alerts
	}
	s.mu.Unlock()
}

func (s *Session) consume(sub Subscription, gen uint64) {
	msgs, alerts := sub.Messages(), sub.Alerts()
	for msgs != nil || alerts != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			s.handlePush(m, gen)
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			s.handleAlert(a, gen)
		}
	}
}

func (s *Session) handlePush(m domain.Message, gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timeline = mergeMessages(s.timeline, m)
	fired := false
	pid := ""
	if m.Sender == domain.SenderPatient {
		fired = s.evaluatePromptLocked()
		if s.active != nil {
			pid = s.active.PatientID
		}
	}
	s.mu.Unlock()
	s.fireTimeline()
	if fired {
		s.firePrompt(pid)
	}
}

func (s *Session) handleAlert(a domain.Alert, gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.active == nil || a.PatientID != s.active.PatientID {
		s.mu.Unlock()
		return
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
	s.fireAlert(a)
}

// evaluatePromptLocked applies the engagement rules: prompt when the
// assignment is at most 24 hours old, or when the newest timeline message is
// at least 7 days old (an empty timeline counts as infinitely old).
// A prompt already pending for the active patient is left untouched.
func (s *Session) evaluatePromptLocked() bool {
	if s.active == nil || s.prompt == s.active.PatientID {
		return false
	}
	now := s.now()
	recent := now.Sub(s.active.AssignedAt) <= newAssignmentWindow
	stale := true
	if n := len(s.timeline); n > 0 {
		last, err := s.timeline[n-1].Time()
		if err != nil {
			stale = false
		} else {
			stale = now.Sub(last) >= staleConversationAge
		}
	}
	if !recent && !stale {
		return false
	}
	s.prompt = s.active.PatientID
	return true
}

// ResolvePrompt answers the pending engagement prompt. Declining sends the
// automated decline message (translated when the patient prefers Kannada) and
// only after that send succeeds removes the patient from the roster and
// clears the active conversation; a failed send leaves all state untouched.
func (s *Session) ResolvePrompt(ctx context.Context, accept bool) error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return newError(ErrorPrecondition, "no_active_conversation", nil)
	}
	if s.prompt == "" {
		s.mu.Unlock()
		return newError(ErrorPrecondition, "no_pending_prompt", nil)
	}
	cc := *s.active
	gen := s.gen
	if accept {
		s.prompt = ""
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	translated := ""
	if cc.LanguagePreference == langKn {
		var err error
		translated, err = s.speech.Translate(ctx, declineText, langEn, langKn)
		if err != nil {
			return newError(ErrorNetwork, "translate_error", err)
		}
	}
	msg := domain.Message{
		Sender:            domain.SenderDoctor,
		Timestamp:         domain.Timestamp(s.now()),
		Text:              declineText,
		TranslatedText:    translated,
		Language:          langEn,
		RecordingLanguage: langEn,
		DoctorID:          cc.DoctorID,
		PatientID:         cc.PatientID,
	}
	if err := s.store.Append(ctx, msg); err != nil {
		return newError(ErrorNetwork, "append_message_error", err)
	}
	if err := s.channel.Publish(ctx, cc.Room(), msg); err != nil {
		s.logger.Warn("decline publish failed", "patientId", cc.PatientID, "err", err)
		s.fireError(newError(ErrorNetwork, "publish_error", err))
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	if s.sub != nil {
		_ = s.sub.Close()
		s.sub = nil
	}
	kept := s.roster[:0]
	for _, a := range s.roster {
		if a.PatientID != cc.PatientID {
			kept = append(kept, a)
		}
	}
	s.roster = kept
	s.active = nil
	s.timeline = nil
	s.alerts = nil
	s.prompt = ""
	s.mu.Unlock()
	return nil
}

// SendText sends a typed message, enriched with synthesized audio and, for
// Kannada-preferring patients, a translation.
func (s *Session) SendText(ctx context.Context, text string) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, newError(ErrorPrecondition, "empty_message", nil)
	}
	cc, gen, err := s.snapshot()
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := s.composeSpoken(ctx, cc, text, "")
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.deliver(ctx, gen, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// SendVoice transcribes captured audio and sends the transcript as a message
// carrying the original recording.
func (s *Session) SendVoice(ctx context.Context, audio []byte, locale string) (domain.Message, error) {
	if len(audio) == 0 {
		return domain.Message{}, newError(ErrorMedia, "empty_audio", nil)
	}
	cc, gen, err := s.snapshot()
	if err != nil {
		return domain.Message{}, err
	}
	if locale == "" {
		locale = localeEnUS
	}
	text, audioURL, err := s.speech.Transcribe(ctx, audio, locale, s.doctor.UID)
	if err != nil {
		return domain.Message{}, newError(ErrorNetwork, "transcription_error", err)
	}
	if strings.TrimSpace(text) == "" {
		text = "Transcription failed"
	}
	msg, err := s.composeSpoken(ctx, cc, text, audioURL)
	if err != nil {
		return domain.Message{}, err
	}
	if err := s.deliver(ctx, gen, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}

// composeSpoken builds a doctor text message with its synthesized audio
// variants.
func (s *Session) composeSpoken(ctx context.Context, cc domain.ConversationContext, text, audioURL string) (domain.Message, error) {
	audioEn, err := s.speech.Synthesize(ctx, text, localeEnUS)
	if err != nil {
		return domain.Message{}, newError(ErrorNetwork, "speech_synthesis_error", err)
	}
	translated, audioKn := "", ""
	if cc.LanguagePreference == langKn {
		translated, err = s.speech.Translate(ctx, text, langEn, langKn)
		if err != nil {
			return domain.Message{}, newError(ErrorNetwork, "translate_error", err)
		}
		audioKn, err = s.speech.Synthesize(ctx, translated, localeKnIN)
		if err != nil {
			return domain.Message{}, newError(ErrorNetwork, "speech_synthesis_error", err)
		}
	}
	return domain.Message{
		Sender:            domain.SenderDoctor,
		Timestamp:         domain.Timestamp(s.now()),
		Text:              text,
		TranslatedText:    translated,
		Language:          langEn,
		RecordingLanguage: langEn,
		AudioURL:          audioURL,
		AudioURLEn:        audioEn,
		AudioURLKn:        audioKn,
		DoctorID:          cc.DoctorID,
		PatientID:         cc.PatientID,
	}, nil
}

// SendDiagnosis records a diagnosis in the timeline, updates the patient
// record, and notifies staff. The record update and staff notification are
// secondary: their failure is surfaced through the error hook but never fails
// a diagnosis that already persisted.
func (s *Session) SendDiagnosis(ctx context.Context, diagnosis string) (domain.Message, error) {
	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		return domain.Message{}, newError(ErrorPrecondition, "empty_diagnosis", nil)
	}
	cc, gen, err := s.snapshot()
	if err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		Sender:    domain.SenderDoctor,
		Timestamp: domain.Timestamp(s.now()),
		Diagnosis: diagnosis,
		DoctorID:  cc.DoctorID,
		PatientID: cc.PatientID,
	}
	if err := s.deliver(ctx, gen, msg); err != nil {
		return domain.Message{}, err
	}
	s.recordCareAction(ctx, cc,
		domain.PatientUpdate{Diagnosis: diagnosis, DoctorID: cc.DoctorID},
		domain.AdminNotification{
			PatientID:   cc.PatientID,
			PatientName: cc.PatientName,
			Age:         orNA(cc.Age),
			Sex:         orNA(cc.Sex),
			Description: "N/A",
			Disease:     diagnosis,
			DoctorID:    cc.DoctorID,
		})
	return msg, nil
}

// SendPrescription records a prescription. A prior doctor diagnosis must
// already exist in the timeline; without one the send fails before any
// network call.
func (s *Session) SendPrescription(ctx context.Context, p domain.Prescription) (domain.Message, error) {
	if !p.Valid() {
		return domain.Message{}, newError(ErrorPrecondition, "incomplete_prescription", nil)
	}
	cc, gen, err := s.snapshot()
	if err != nil {
		return domain.Message{}, err
	}
	s.mu.Lock()
	diagnosis := latestDiagnosis(s.timeline)
	s.mu.Unlock()
	if diagnosis == "" {
		return domain.Message{}, newError(ErrorPrecondition, "no_prior_diagnosis", nil)
	}
	msg := domain.Message{
		Sender:       domain.SenderDoctor,
		Timestamp:    domain.Timestamp(s.now()),
		Prescription: &p,
		DoctorID:     cc.DoctorID,
		PatientID:    cc.PatientID,
	}
	if err := s.deliver(ctx, gen, msg); err != nil {
		return domain.Message{}, err
	}
	s.recordCareAction(ctx, cc,
		domain.PatientUpdate{Prescription: p.Summary(), DoctorID: cc.DoctorID},
		domain.AdminNotification{
			PatientID:   cc.PatientID,
			PatientName: cc.PatientName,
			Age:         orNA(cc.Age),
			Sex:         orNA(cc.Sex),
			Description: "N/A",
			Disease:     diagnosis,
			Medicine:    p.Summary(),
			DoctorID:    cc.DoctorID,
		})
	return msg, nil
}

// deliver persists the message, publishes it best-effort, and merges it into
// the local timeline. Persistence failure aborts the send; a publish failure
// is surfaced but does not roll back the optimistic merge.
func (s *Session) deliver(ctx context.Context, gen uint64, msg domain.Message) error {
	if err := s.store.Append(ctx, msg); err != nil {
		return newError(ErrorNetwork, "append_message_error", err)
	}
	room := domain.Room{PatientID: msg.PatientID, DoctorID: msg.DoctorID}
	if err := s.channel.Publish(ctx, room, msg); err != nil {
		s.logger.Warn("realtime publish failed", "patientId", msg.PatientID, "err", err)
		s.fireError(newError(ErrorNetwork, "publish_error", err))
	}
	s.mu.Lock()
	changed := false
	if gen == s.gen {
		s.timeline = mergeMessages(s.timeline, msg)
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.fireTimeline()
	}
	return nil
}

func (s *Session) recordCareAction(ctx context.Context, cc domain.ConversationContext, update domain.PatientUpdate, n domain.AdminNotification) {
	if err := s.store.UpdatePatient(ctx, cc.PatientID, update); err != nil {
		s.fireError(newError(ErrorNetwork, "patient_record_error", err))
	}
	if err := s.store.NotifyAdmin(ctx, n); err != nil {
		s.fireError(newError(ErrorNetwork, "admin_notify_error", err))
	}
}

// probeAudio nulls out audio URLs that no longer resolve so a dead link never
// fails the whole history load.
func (s *Session) probeAudio(ctx context.Context, msgs []domain.Message) []domain.Message {
	if s.prober == nil {
		return msgs
	}
	check := func(url string) string {
		if url == "" {
			return ""
		}
		if err := s.prober.Probe(ctx, url); err != nil {
			s.logger.Debug("dropping dead audio url", "url", url, "err", err)
			return ""
		}
		return url
	}
	for i := range msgs {
		msgs[i].AudioURL = check(msgs[i].AudioURL)
		msgs[i].AudioURLEn = check(msgs[i].AudioURLEn)
		msgs[i].AudioURLKn = check(msgs[i].AudioURLKn)
	}
	return msgs
}

func (s *Session) snapshot() (domain.ConversationContext, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return domain.ConversationContext{}, 0, newError(ErrorPrecondition, "no_active_conversation", nil)
	}
	return *s.active, s.gen, nil
}

// Timeline returns a copy of the active conversation's ordered messages.
func (s *Session) Timeline() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.timeline...)
}

// Roster returns a copy of the doctor's assignment list.
func (s *Session) Roster() []domain.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Assignment(nil), s.roster...)
}

// Active returns the current conversation context, if any.
func (s *Session) Active() (domain.ConversationContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return domain.ConversationContext{}, false
	}
	return *s.active, true
}

// PendingPrompt returns the patient the engagement prompt is pending for.
func (s *Session) PendingPrompt() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt, s.prompt != ""
}

// Alerts returns a copy of the undismissed missed-dose alerts.
func (s *Session) Alerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}

// DismissAlert removes one alert by id.
func (s *Session) DismissAlert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.alerts {
		if a.ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) fireTimeline() {
	if s.hooks.TimelineChanged != nil {
		s.hooks.TimelineChanged()
	}
}

func (s *Session) firePrompt(patientID string) {
	if s.hooks.PromptPending != nil {
		s.hooks.PromptPending(patientID)
	}
}

func (s *Session) fireAlert(a domain.Alert) {
	if s.hooks.AlertReceived != nil {
		s.hooks.AlertReceived(a)
	}
}

func (s *Session) fireError(err error) {
	if s.hooks.Error != nil {
		s.hooks.Error(err)
	}
}

func orNA(v string) string {
	if strings.TrimSpace(v) == "" {
		return "N/A"
	}
	return v
}
