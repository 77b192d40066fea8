package db

type Aggregate struct {
	Owner          string
	EncryptedTotal []byte
	UpdatedAt      int64
}

type Submission struct {
	ID             int64
	Owner          string
	ResultHash     []byte
	ResultRef      string
	PublicScore    int64
	EncryptedScore []byte
	SubmittedAt    int64
}

type PublicStat struct {
	Owner                string
	GamesPlayed          int64
	TotalPublicScore     int64
	MaxSinglePublicScore int64
	LastPlayedAt         int64
}

type BadgeClaim struct {
	BadgeID   int64
	Owner     string
	ClaimedAt int64
}

type Event struct {
	Seq          int64
	Kind         string
	Owner        string
	SubmissionID int64
	ResultHash   []byte
	ResultRef    string
	PublicScore  int64
	BadgeID      int64
	Timestamp    int64
}

type Receipt struct {
	TxID         []byte
	Kind         string
	Sender       string
	SubmissionID int64
	BadgeID      int64
	ConfirmedAt  int64
}

type Ciphertext struct {
	Handle    []byte
	Type      int64
	Sealed    []byte
	CreatedAt int64
}

type Content struct {
	Ref       string
	Hash      []byte
	Body      []byte
	CreatedAt int64
}

type Capability struct {
	Key       string
	Value     string
	UpdatedAt int64
}
