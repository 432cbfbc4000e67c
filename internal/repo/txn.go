package repo

type txnOpKind int

const (
	txnMkdir txnOpKind = iota
	txnPut
	txnSetProps
	txnDelete
	txnCopy
)

type txnOp struct {
	kind    txnOpKind
	path    string
	content []byte
	props   map[string]string
	srcPath string
	srcRev  int64
}

// Txn collects tree changes to be committed as one new revision on top of
// the youngest revision.
type Txn struct {
	Author string
	Log    string
	ops    []txnOp
}

// NewTxn creates an empty transaction.
func NewTxn(author, log string) *Txn {
	return &Txn{Author: author, Log: log}
}

// Mkdir adds a directory. Its parent must exist.
func (t *Txn) Mkdir(path string, props map[string]string) *Txn {
	t.ops = append(t.ops, txnOp{kind: txnMkdir, path: path, props: props})
	return t
}

// PutFile adds or replaces the text of a file. Nil props keep existing properties.
func (t *Txn) PutFile(path string, content []byte, props map[string]string) *Txn {
	t.ops = append(t.ops, txnOp{kind: txnPut, path: path, content: content, props: props})
	return t
}

// SetProps replaces the properties of an existing node.
func (t *Txn) SetProps(path string, props map[string]string) *Txn {
	t.ops = append(t.ops, txnOp{kind: txnSetProps, path: path, props: props})
	return t
}

// Delete removes a node and everything below it.
func (t *Txn) Delete(path string) *Txn {
	t.ops = append(t.ops, txnOp{kind: txnDelete, path: path})
	return t
}

// Copy copies srcPath as of srcRev to dstPath, recording copy-from history.
func (t *Txn) Copy(srcPath string, srcRev int64, dstPath string) *Txn {
	t.ops = append(t.ops, txnOp{kind: txnCopy, path: dstPath, srcPath: srcPath, srcRev: srcRev})
	return t
}

// Len returns the number of queued operations.
func (t *Txn) Len() int {
	return len(t.ops)
}
