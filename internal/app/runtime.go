package app

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"taskroom/internal/db"
	"taskroom/internal/engine"
	"taskroom/internal/logging"
	"taskroom/internal/migrate"
	"taskroom/internal/repo"
)

type Options struct {
	Workspace string
	Driver    string
	DSN       string
	TxTimeout time.Duration
	Log       *logrus.Logger
}

// Runtime holds everything a command or the server needs for one process.
type Runtime struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Engine engine.Engine
	Admin  Admin
	Log    *logrus.Logger
}

// Open connects to the database, applies migrations and wires the engine.
func Open(opts Options) (*Runtime, error) {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, log)
	if opts.TxTimeout > 0 {
		e.TxTimeout = opts.TxTimeout
	}
	return &Runtime{
		DB:     conn,
		Repo:   e.Repo,
		Engine: e,
		Admin:  NewAdmin(e.Repo),
		Log:    log,
	}, nil
}

func (rt *Runtime) Close() error {
	return rt.DB.Close()
}
