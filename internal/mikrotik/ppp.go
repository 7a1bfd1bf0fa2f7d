package mikrotik

import "context"

const (
	pathPPPSecret  = "/ppp/secret"
	pathPPPActive  = "/ppp/active"
	pathPPPProfile = "/ppp/profile"
)

// PPPSecret is a /ppp/secret entry
type PPPSecret struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Password      string `json:"password,omitempty"`
	Service       string `json:"service"`
	Profile       string `json:"profile"`
	LocalAddress  string `json:"local_address,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Disabled      bool   `json:"disabled"`
	LastLoggedOut string `json:"last_logged_out,omitempty"`
}

func (s PPPSecret) words(set bool) []string {
	service := s.Service
	if service == "" {
		service = "pppoe"
	}
	return attrs(
		Attr("name", s.Name),
		Attr("password", s.Password),
		Attr("service", service),
		Attr("profile", s.Profile),
		field(set, "local-address", s.LocalAddress),
		field(set, "remote-address", s.RemoteAddress),
		field(set, "comment", s.Comment),
		[]string{"=disabled=" + yesNo(s.Disabled)},
	)
}

// AddPPPSecret creates a PPP secret and returns its router id
func (rc *RouterClient) AddPPPSecret(ctx context.Context, s PPPSecret) (string, error) {
	return rc.add(ctx, pathPPPSecret, s.words(false)...)
}

// SetPPPSecret overwrites the attributes of the secret called s.Name
func (rc *RouterClient) SetPPPSecret(ctx context.Context, s PPPSecret) error {
	return rc.byName(ctx, pathPPPSecret, "set", s.Name, s.words(true)...)
}

// RemovePPPSecret deletes a PPP secret by name
func (rc *RouterClient) RemovePPPSecret(ctx context.Context, name string) error {
	return rc.byName(ctx, pathPPPSecret, "remove", name)
}

// EnablePPPSecret enables a PPP secret by name
func (rc *RouterClient) EnablePPPSecret(ctx context.Context, name string) error {
	return rc.byName(ctx, pathPPPSecret, "enable", name)
}

// DisablePPPSecret disables a PPP secret by name
func (rc *RouterClient) DisablePPPSecret(ctx context.Context, name string) error {
	return rc.byName(ctx, pathPPPSecret, "disable", name)
}

// FindPPPSecret returns the secret called name, nil when absent
func (rc *RouterClient) FindPPPSecret(ctx context.Context, name string) (*PPPSecret, error) {
	rows, err := rc.Run(ctx, pathPPPSecret+"/print", "?name="+name)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	return &PPPSecret{
		ID:            r[".id"],
		Name:          r["name"],
		Password:      r["password"],
		Service:       r["service"],
		Profile:       r["profile"],
		LocalAddress:  r["local-address"],
		RemoteAddress: r["remote-address"],
		Comment:       r["comment"],
		Disabled:      parseBool(r["disabled"]),
		LastLoggedOut: r["last-logged-out"],
	}, nil
}

// PPPActive is an active PPP session
type PPPActive struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Service   string `json:"service"`
	CallerID  string `json:"caller_id"`
	Address   string `json:"address"`
	Uptime    string `json:"uptime"`
	Encoding  string `json:"encoding"`
	SessionID string `json:"session_id"`
}

// ListPPPActive lists active PPP sessions
func (rc *RouterClient) ListPPPActive(ctx context.Context) ([]PPPActive, error) {
	rows, err := rc.Run(ctx, pathPPPActive+"/print")
	if err != nil {
		return nil, err
	}
	sessions := make([]PPPActive, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, PPPActive{
			ID:        r[".id"],
			Name:      r["name"],
			Service:   r["service"],
			CallerID:  r["caller-id"],
			Address:   r["address"],
			Uptime:    r["uptime"],
			Encoding:  r["encoding"],
			SessionID: r["session-id"],
		})
	}
	return sessions, nil
}

// KickPPPActive disconnects every session of user and returns the count
func (rc *RouterClient) KickPPPActive(ctx context.Context, user string) (int, error) {
	rows, err := rc.Run(ctx, pathPPPActive+"/print", "=.proplist=.id", "?name="+user)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r[".id"])
	}
	if err := rc.removeIDs(ctx, pathPPPActive, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// PPPProfile is a /ppp/profile entry
type PPPProfile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RateLimit     string `json:"rate_limit"`
	LocalAddress  string `json:"local_address"`
	RemoteAddress string `json:"remote_address"`
	AddressList   string `json:"address_list"`
	OnlyOne       bool   `json:"only_one"`
}

func (p PPPProfile) words(set bool) []string {
	return attrs(
		Attr("name", p.Name),
		field(set, "rate-limit", p.RateLimit),
		field(set, "local-address", p.LocalAddress),
		field(set, "remote-address", p.RemoteAddress),
		field(set, "address-list", p.AddressList),
		[]string{"=only-one=" + yesNo(p.OnlyOne)},
	)
}

// UpsertPPPProfile creates the profile or updates it when it exists
func (rc *RouterClient) UpsertPPPProfile(ctx context.Context, p PPPProfile) error {
	id, err := rc.findID(ctx, pathPPPProfile, "name", p.Name)
	if err != nil {
		return err
	}
	if id == "" {
		_, err = rc.add(ctx, pathPPPProfile, p.words(false)...)
		return err
	}
	_, err = rc.Exec(ctx, pathPPPProfile+"/set", append([]string{"=.id=" + id}, p.words(true)...)...)
	return err
}

// RemovePPPProfile deletes a PPP profile by name
func (rc *RouterClient) RemovePPPProfile(ctx context.Context, name string) error {
	return rc.byName(ctx, pathPPPProfile, "remove", name)
}

// ListPPPProfiles lists PPP profiles
func (rc *RouterClient) ListPPPProfiles(ctx context.Context) ([]PPPProfile, error) {
	rows, err := rc.Run(ctx, pathPPPProfile+"/print")
	if err != nil {
		return nil, err
	}
	profiles := make([]PPPProfile, 0, len(rows))
	for _, r := range rows {
		profiles = append(profiles, PPPProfile{
			ID:            r[".id"],
			Name:          r["name"],
			RateLimit:     r["rate-limit"],
			LocalAddress:  r["local-address"],
			RemoteAddress: r["remote-address"],
			AddressList:   r["address-list"],
			OnlyOne:       parseBool(r["only-one"]),
		})
	}
	return profiles, nil
}
