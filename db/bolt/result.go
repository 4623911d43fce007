// Package bolt contains implementations of the DB interfaces used by package
// main.
package bolt

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"

	"github.com/boltdb/bolt"

	"github.com/blockprice/blockprice/oracle"
)

type resultdb struct {
	db           *bolt.DB
	byteOrder    binary.ByteOrder
	resultBucket []byte
}

func LoadResultDB(dbfile string) (*resultdb, error) {
	db, err := bolt.Open(dbfile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	d := &resultdb{
		db:           db,
		byteOrder:    binary.BigEndian,
		resultBucket: []byte("results"),
	}
	err = d.db.Update(func(tr *bolt.Tx) error {
		_, err = tr.CreateBucketIfNotExists(d.resultBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns all stored results whose end height is in [start, end],
// ascending.
func (d *resultdb) Get(start, end int64) ([]*oracle.Result, error) {
	var results []*oracle.Result
	err := d.db.View(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.resultBucket)
		c := bkt.Cursor()
		startkey, endkey := itob(start), itob(end)
		for k, v := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, v = c.Next() {
			r := new(oracle.Result)
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(r); err != nil {
				return err
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Latest returns the result with the highest end height, or nil if the db is
// empty.
func (d *resultdb) Latest() (*oracle.Result, error) {
	var result *oracle.Result
	err := d.db.View(func(tr *bolt.Tx) error {
		c := tr.Bucket(d.resultBucket).Cursor()
		k, v := c.Last()
		if k == nil {
			return nil
		}
		result = new(oracle.Result)
		return gob.NewDecoder(bytes.NewReader(v)).Decode(result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Put stores results keyed by end height; a rerun of the same block range
// overwrites.
func (d *resultdb) Put(results []*oracle.Result) error {
	err := d.db.Update(func(tr *bolt.Tx) error {
		bkt := tr.Bucket(d.resultBucket)
		for _, r := range results {
			value := new(bytes.Buffer)
			if err := gob.NewEncoder(value).Encode(r); err != nil {
				return err
			}
			if err := bkt.Put(itob(r.EndHeight), value.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (d *resultdb) Delete(start, end int64) error {
	err := d.db.Update(func(tr *bolt.Tx) error {
		b := tr.Bucket(d.resultBucket)
		c := b.Cursor()
		startkey, endkey := itob(start), itob(end)
		var del [][]byte
		for k, _ := c.Seek(startkey); k != nil && bytes.Compare(k, endkey) <= 0; k, _ = c.Next() {
			del = append(del, k)
		}
		for _, k := range del {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (d *resultdb) Close() error {
	return d.db.Close()
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
