package txn

import (
	"tiledb/pkg/common"
	"tiledb/pkg/iface/txnif"

	"github.com/sirupsen/logrus"
)

// LogObserver logs every committed write.
type LogObserver struct {
	Level logrus.Level
}

func NewLogObserver(level logrus.Level) *LogObserver {
	return &LogObserver{Level: level}
}

func (ob *LogObserver) OnCommit(txn txnif.TxnReader, records []txnif.WriteRecord) {
	logger := logrus.StandardLogger()
	if !logger.IsLevelEnabled(ob.Level) {
		return
	}
	for _, r := range records {
		logger.WithFields(logrus.Fields{
			"txn": txn.GetID(),
			"cts": r.CommitTS,
			"rel": r.RelationID,
			"lid": r.LogicalID,
		}).Logf(ob.Level, "%s %s->%s", txnif.RWTypeNames[r.Type],
			common.SlotString(r.OldSlot), common.SlotString(r.NewSlot))
	}
}
