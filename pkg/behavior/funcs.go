package behavior

// Funcs lets interpreted widgets describe a behavior as a set of optional
// functions. The interpreter can build host struct values freely, which is far
// more robust than having it satisfy host interfaces.
type Funcs struct {
	Build          func() (any, error)
	Close          func() error
	Config         func() map[string]string
	Defaults       func() map[string]string
	ApplyConfig    func(values map[string]string) error
	DeclareIO      func(p Ports)
	ReloadResource func(path string) error
}

// Behavior adapts the function set to the Behavior interface and to every
// optional interface whose function is present.
func (f Funcs) Behavior() Behavior {
	base := &funcsBehavior{f: f}
	if f.Config != nil || f.ApplyConfig != nil {
		return &configurableFuncs{funcsBehavior: base}
	}
	return base
}

type funcsBehavior struct {
	f Funcs
}

func (b *funcsBehavior) Build() (Root, error) {
	if b.f.Build == nil {
		return nil, nil
	}
	return b.f.Build()
}

func (b *funcsBehavior) Close() error {
	if b.f.Close == nil {
		return nil
	}
	return b.f.Close()
}

func (b *funcsBehavior) DeclareIO(p Ports) {
	if b.f.DeclareIO != nil {
		b.f.DeclareIO(p)
	}
}

func (b *funcsBehavior) ReloadResource(path string) error {
	if b.f.ReloadResource == nil {
		return nil
	}
	return b.f.ReloadResource(path)
}

type configurableFuncs struct {
	*funcsBehavior
}

func (b *configurableFuncs) Config() map[string]string {
	if b.f.Config == nil {
		return map[string]string{}
	}
	return b.f.Config()
}

func (b *configurableFuncs) Defaults() map[string]string {
	if b.f.Defaults == nil {
		return map[string]string{}
	}
	return b.f.Defaults()
}

func (b *configurableFuncs) ApplyConfig(values map[string]string) error {
	if b.f.ApplyConfig == nil {
		return nil
	}
	return b.f.ApplyConfig(values)
}
