package supervisor

import "sync"

// Provider hands out the process's supervisor, building it on first use.
// Every caller shares the same instance and so the same connection.
type Provider struct {
	Build func() *Supervisor

	once sync.Once
	s    *Supervisor
}

func NewProvider(build func() *Supervisor) *Provider {
	return &Provider{Build: build}
}

func (p *Provider) Instance() *Supervisor {
	p.once.Do(func() { p.s = p.Build() })
	return p.s
}
