package auth

import (
	"context"

	"GProject/service/protocol"
	"GProject/service/rpc"
	"GProject/service/session"
	"GProject/tools/decode"
	errs "GProject/tools/errs"
	"GProject/tools/security"
)

// Unit is the authentication routing unit: signin mints a token and
// starts a session, signout finalizes it, restore rebinds an existing
// token. Credential checking here is a plain account map; it stands in
// for whatever identity backend the deployment wires up.
type Unit struct {
	sessions *session.Manager
	jwt      security.Options
	accounts map[string]string // login -> password
}

func New(sessions *session.Manager, secret []byte, accounts map[string]string) *Unit {
	opts := security.DefaultOptions(secret)
	opts.TTL = sessions.TTL()
	return &Unit{sessions: sessions, jwt: opts, accounts: accounts}
}

// Register wires the unit into the routing table.
func (u *Unit) Register(r *rpc.Routing) {
	r.Register("auth", "signin", u.Signin)
	r.Register("auth", "signout", u.Signout)
	r.Register("auth", "restore", u.Restore)
}

type signinOpts struct {
	Remember bool `json:"remember"`
}

// Signin args: [login, password, opts?].
func (u *Unit) Signin(ctx *rpc.Context, args []protocol.RawArg) protocol.Result {
	if len(args) < 2 {
		return protocol.Fail(errs.ErrCallFields.WithDetail("signin wants [login, password]"))
	}
	login, err := decode.String(args[0])
	if err != nil {
		return protocol.Fail(errs.ErrCallFields.WithDetail(err.Error()))
	}
	password, err := decode.String(args[1])
	if err != nil {
		return protocol.Fail(errs.ErrCallFields.WithDetail(err.Error()))
	}
	opts := &signinOpts{}
	if len(args) > 2 {
		if decoded, derr := decode.Struct[signinOpts](args[2]); derr == nil {
			opts = decoded
		}
	}

	want, ok := u.accounts[login]
	if !ok || want != password {
		return protocol.Fail(errs.ErrCredentials)
	}

	token, expireAt, err := security.Generate(u.jwt, login)
	if err != nil {
		return protocol.Fail(errs.ErrInternal.WithDetail(err.Error()))
	}

	state := map[string]any{"login": login, "remember": opts.Remember}
	s := ctx.Client.StartSession(context.Background(), token, login, state)

	return protocol.Ok(map[string]any{
		"token":   s.Token,
		"expires": expireAt.Unix(),
		"user":    map[string]any{"login": login},
	})
}

// Signout finalizes the bound session.
func (u *Unit) Signout(ctx *rpc.Context, _ []protocol.RawArg) protocol.Result {
	if ctx.Session == nil {
		return protocol.Fail(errs.ErrUnauthorized)
	}
	ctx.Client.FinalizeSession(context.Background())
	return protocol.Ok(true)
}

// Restore args: [token]. Rebinds an existing session after a reconnect.
func (u *Unit) Restore(ctx *rpc.Context, args []protocol.RawArg) protocol.Result {
	if len(args) < 1 {
		return protocol.Fail(errs.ErrCallFields.WithDetail("restore wants [token]"))
	}
	token, err := decode.String(args[0])
	if err != nil {
		return protocol.Fail(errs.ErrCallFields.WithDetail(err.Error()))
	}
	if _, verr := security.Verify(u.jwt, token); verr != nil {
		return protocol.Fail(errs.ErrUnauthorized)
	}
	if !ctx.Client.RestoreSession(context.Background(), token) {
		return protocol.Fail(errs.ErrUnauthorized.WithDetail("no session for token"))
	}
	return protocol.Ok(true)
}
