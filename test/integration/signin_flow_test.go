// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

//go:build integration

package integration

import (
	"context"
	"io"
	"log/slog"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/pickiss/playerid/internal/identity"
	"github.com/pickiss/playerid/internal/identityclient"
)

// codeSequence hands out one credential per call.
type codeSequence struct {
	provider identity.Provider
	mu       sync.Mutex
	codes    []string
}

func (s *codeSequence) Provider() identity.Provider { return s.provider }

func (s *codeSequence) Credential(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return "", nil
	}
	code := s.codes[0]
	s.codes = s.codes[1:]
	return code, nil
}

// device is one client install: a token store that outlives the manager.
type device struct {
	tokens identityclient.TokenStore
	client *identityclient.Client

	errors   []string
	refresh  int
	confirms []identity.SwitchAction
}

type memTokens struct {
	mu    sync.Mutex
	token string
}

func (m *memTokens) SessionToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *memTokens) SetSessionToken(t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = t
	return nil
}

func (m *memTokens) ClearSessionToken() error { return m.SetSessionToken("") }

func newDevice() *device {
	return &device{tokens: &memTokens{}}
}

// start builds a fresh client and manager over the device's token store.
func (d *device) start(sources ...identity.CredentialSource) *identity.Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var err error
	d.client, err = identityclient.New(env.server.URL,
		identityclient.WithHTTPClient(env.httpClient()),
		identityclient.WithTokenStore(d.tokens),
		identityclient.WithLogger(logger),
	)
	Expect(err).NotTo(HaveOccurred())

	opts := []identity.Option{identity.WithLogger(logger)}
	for _, src := range sources {
		opts = append(opts, identity.WithCredentialSource(src))
	}
	m, err := identity.New(d.client, opts...)
	Expect(err).NotTo(HaveOccurred())
	return m
}

func (d *device) callbacks() identity.Callbacks {
	return identity.Callbacks{
		OnError:   func(msg string) { d.errors = append(d.errors, msg) },
		OnRefresh: func() { d.refresh++ },
		OnConfirm: func(a identity.SwitchAction) { d.confirms = append(d.confirms, a) },
	}
}

var _ = Describe("Sign-in flows", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		truncateAll(ctx)
	})

	Describe("anonymous sign-in", func() {
		It("creates a player and resumes it on the next launch", func() {
			d := newDevice()
			m := d.start()
			out, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeSuccess))
			Expect(m.State().HasIdentity).To(BeTrue())
			Expect(m.State().ExternalIDs).To(BeEmpty())
			first := m.PlayerID()
			Expect(first).NotTo(BeEmpty())

			m = d.start()
			_, err = m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			Expect(m.PlayerID()).To(Equal(first))
		})

		It("starts over when the cached session token is unknown", func() {
			d := newDevice()
			Expect(d.tokens.SetSessionToken("not-a-real-token")).To(Succeed())

			m := d.start()
			out, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeSuccess))
			Expect(d.errors).To(BeEmpty())

			token, err := d.tokens.SessionToken()
			Expect(err).NotTo(HaveOccurred())
			Expect(token).NotTo(Equal("not-a-real-token"))
			Expect(token).NotTo(BeEmpty())
		})

		It("starts over after the session is signed out", func() {
			d := newDevice()
			m := d.start()
			_, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			first := m.PlayerID()
			token, _ := d.tokens.SessionToken()

			Expect(d.client.SignOut(ctx)).To(Succeed())
			Expect(d.tokens.SetSessionToken(token)).To(Succeed())

			m = d.start()
			_, err = m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			Expect(m.PlayerID()).NotTo(Equal(first))
		})
	})

	Describe("linking", func() {
		It("links Apple and reports it in the external IDs", func() {
			d := newDevice()
			m := d.start(identity.StaticCredential{For: identity.ProviderApple, Value: "apple-user"})
			_, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())

			out, err := m.LinkApple(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeSuccess))
			Expect(m.State().ExternalIDs).To(Equal("apple.com"))
			Expect(d.refresh).To(Equal(1))
		})

		It("rejects a bad credential without touching the session", func() {
			d := newDevice()
			m := d.start()
			_, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())

			out, err := m.Link(ctx, identity.ProviderGooglePlayGames, "bad")
			Expect(err).To(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeFailed))
			Expect(d.errors).To(HaveLen(1))
			Expect(m.State().HasIdentity).To(BeTrue())
		})
	})

	Describe("switching to an already linked account", func() {
		It("asks for confirmation and switches with the Apple token", func() {
			owner := newDevice()
			om := owner.start(identity.StaticCredential{For: identity.ProviderApple, Value: "shared-apple"})
			_, err := om.Init(ctx, owner.callbacks())
			Expect(err).NotTo(HaveOccurred())
			_, err = om.LinkApple(ctx)
			Expect(err).NotTo(HaveOccurred())

			d := newDevice()
			m := d.start(identity.StaticCredential{For: identity.ProviderApple, Value: "shared-apple"})
			_, err = m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())

			out, err := m.LinkApple(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeConfirmRequired))
			Expect(d.confirms).To(HaveLen(1))
			Expect(m.PlayerID()).NotTo(Equal(om.PlayerID()))

			out, err = d.confirms[0].Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeSuccess))
			Expect(m.PlayerID()).To(Equal(om.PlayerID()))
			Expect(m.State().ExternalIDs).To(Equal("apple.com"))
		})

		It("requests a fresh Play Games code for the switch", func() {
			owner := newDevice()
			om := owner.start()
			_, err := om.Init(ctx, owner.callbacks())
			Expect(err).NotTo(HaveOccurred())
			_, err = om.Link(ctx, identity.ProviderGooglePlayGames, "gpg-user#1")
			Expect(err).NotTo(HaveOccurred())

			codes := &codeSequence{
				provider: identity.ProviderGooglePlayGames,
				codes:    []string{"gpg-user#2", "gpg-user#3"},
			}
			d := newDevice()
			m := d.start(codes)
			_, err = m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())

			out, err := m.LinkGooglePlayGames(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeConfirmRequired))
			Expect(d.confirms).To(HaveLen(1))

			out, err = d.confirms[0].Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(identity.OutcomeSuccess))
			Expect(m.PlayerID()).To(Equal(om.PlayerID()))
			Expect(codes.codes).To(BeEmpty())
			Expect(m.State().ExternalIDs).To(Equal("google-play-games"))
		})
	})

	Describe("session purge", func() {
		It("keeps live sessions", func() {
			d := newDevice()
			m := d.start()
			_, err := m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.PurgeExpiredSessions(ctx)
			Expect(err).NotTo(HaveOccurred())

			m = d.start()
			_, err = m.Init(ctx, d.callbacks())
			Expect(err).NotTo(HaveOccurred())
			Expect(d.errors).To(BeEmpty())
		})
	})
})
