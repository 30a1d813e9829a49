package tinybase

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
)

// InsertFromFile reads whitespace-separated 64-bit integers from fileName
// and inserts each as a key with the key itself as the row id. Test harness
// helper for int64-keyed indexes.
func (t *BTree[K]) InsertFromFile(ctx context.Context, fileName string) error {
	return scanKeys(fileName, func(key int64) error {
		_, err := t.Insert(ctx, K(key), RowID(key))
		return err
	})
}

// RemoveFromFile reads whitespace-separated 64-bit integers from fileName
// and removes each key.
func (t *BTree[K]) RemoveFromFile(ctx context.Context, fileName string) error {
	return scanKeys(fileName, func(key int64) error {
		return t.Remove(ctx, K(key))
	})
}

func scanKeys(fileName string, apply func(key int64) error) error {
	aFile, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("open key file: %w", err)
	}
	defer aFile.Close()

	scanner := bufio.NewScanner(aFile)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		key, err := strconv.ParseInt(scanner.Text(), 10, 64)
		if err != nil {
			return fmt.Errorf("parse key %q: %w", scanner.Text(), err)
		}
		if err := apply(key); err != nil {
			return err
		}
	}
	return scanner.Err()
}
