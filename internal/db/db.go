package db

import (
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-engine/internal/store"
)

// Connect opens the database behind the conversation store. A DSN that
// contains "@tcp(" is treated as MySQL; anything else (including empty,
// which maps to a local file) goes through the pure-Go sqlite driver.
func Connect(dsn string) *gorm.DB {
	var (
		gdb *gorm.DB
		err error
	)
	if isMySQL(dsn) {
		gdb, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	} else {
		if dsn == "" {
			dsn = "chat-engine.db"
		}
		gdb, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		log.Fatalf("db open: %v", err)
	}

	if err := gdb.AutoMigrate(store.AllModels()...); err != nil {
		log.Fatalf("db automigrate: %v", err)
	}
	return gdb
}

func isMySQL(dsn string) bool {
	for i := 0; i+4 < len(dsn); i++ {
		if dsn[i:i+5] == "@tcp(" {
			return true
		}
	}
	return false
}
