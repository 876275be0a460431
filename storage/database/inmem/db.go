package inmemdb

import (
	"sync"

	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/notebook"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
)

type (
	// DB is a process local store used by tests and the debug server.
	DB struct {
		user     *userTable
		purchase *purchaseTable
		kitOrder *kitOrderTable
		progress *progressTable
		usage    *chatUsageTable
		notebook *notebookTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	purchaseTable struct {
		sync.RWMutex
		table map[string]*purchase.Purchase
		byTxn map[string]string // {external_txn_id: id}
	}

	kitOrderTable struct {
		sync.RWMutex
		table      map[string]*purchase.KitOrder
		byPurchase map[string]string // {purchase_id: id}
	}

	progressKey struct {
		userID, module, lesson string
	}

	progressTable struct {
		sync.RWMutex
		table map[progressKey]progress.Record
	}

	chatUsageKey struct {
		userID, period string
	}

	chatUsageTable struct {
		sync.RWMutex
		table map[chatUsageKey]chat.Usage
	}

	notebookTable struct {
		sync.RWMutex
		table map[string]notebook.Entry
	}
)

func Open() *DB {
	return &DB{
		user:     &userTable{table: make(map[string]*user.User)},
		purchase: &purchaseTable{table: make(map[string]*purchase.Purchase), byTxn: make(map[string]string)},
		kitOrder: &kitOrderTable{table: make(map[string]*purchase.KitOrder), byPurchase: make(map[string]string)},
		progress: &progressTable{table: make(map[progressKey]progress.Record)},
		usage:    &chatUsageTable{table: make(map[chatUsageKey]chat.Usage)},
		notebook: &notebookTable{table: make(map[string]notebook.Entry)},
	}
}
