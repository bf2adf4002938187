package store

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// "arn:aws:s3:::bucket/folder/file.xxx"
const s3prefix = "arn:aws:s3:"

var (
	s3lock    sync.Mutex
	s3svc     *s3.S3
	s3logger  hasPrintf
	s3region  string
)

func s3init(logger hasPrintf, region string) {
	s3lock.Lock()
	defer s3lock.Unlock()
	if s3logger != nil && s3region == region {
		return // already initialized
	}
	s3logger = logger
	s3region = region
	s3svc = nil
	logger.Printf("s3 store: initialized region=[%s]", region)
}

func s3log(format string, v ...interface{}) {
	s3lock.Lock()
	logger := s3logger
	s3lock.Unlock()
	if logger == nil {
		return
	}
	logger.Printf("s3 store: "+format, v...)
}

func s3client() (*s3.S3, error) {
	s3lock.Lock()
	defer s3lock.Unlock()

	if s3logger == nil {
		return nil, fmt.Errorf("s3client: store not initialized")
	}

	if s3svc == nil {
		sess, err := session.NewSession()
		if err != nil {
			return nil, fmt.Errorf("s3client: could not create session: %v", err)
		}
		s3svc = s3.New(sess, aws.NewConfig().WithRegion(s3region))
	}

	return s3svc, nil
}

// s3parse splits "arn:aws:s3:::bucket/folder/file" into bucket and key.
func s3parse(path string) (string, string) {
	s := strings.SplitN(path, ":", 6)
	if len(s) < 6 {
		return "", ""
	}
	file := s[5]
	slash := strings.IndexByte(file, '/')
	if slash < 1 {
		return file, ""
	}
	return file[:slash], file[slash+1:]
}

func s3join(dir, name string) string {
	return dir + "/" + name
}

func s3base(path string) string {
	return path[strings.LastIndexByte(path, '/')+1:]
}

func s3fileExists(path string) bool {
	_, _, err := s3fileInfo(path)
	return err == nil
}

func s3fileInfo(path string) (time.Time, int64, error) {
	c, err := s3client()
	if err != nil {
		return time.Time{}, 0, err
	}

	bucket, key := s3parse(path)

	out, headErr := c.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if headErr != nil {
		return time.Time{}, 0, headErr
	}

	return aws.TimeValue(out.LastModified), aws.Int64Value(out.ContentLength), nil
}

func s3fileput(path string, buf []byte, contentType string) error {
	c, err := s3client()
	if err != nil {
		return err
	}

	bucket, key := s3parse(path)

	params := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf),
	}
	if contentType != "" {
		params.ContentType = aws.String(contentType)
	}

	_, putErr := c.PutObject(params)
	if putErr != nil {
		s3log("s3fileput: [%s]: %v", path, putErr)
	}

	return putErr
}

func s3fileRead(path string) ([]byte, error) {
	c, err := s3client()
	if err != nil {
		return nil, err
	}

	bucket, key := s3parse(path)

	out, getErr := c.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if getErr != nil {
		return nil, getErr
	}
	defer out.Body.Close()

	return ioutil.ReadAll(out.Body)
}

func s3fileRemove(path string) error {
	c, err := s3client()
	if err != nil {
		return err
	}

	bucket, key := s3parse(path)

	_, delErr := c.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})

	return delErr
}

// S3 has no rename: copy then delete.
func s3fileRename(p1, p2 string) error {
	c, err := s3client()
	if err != nil {
		return err
	}

	bucket1, key1 := s3parse(p1)
	bucket2, key2 := s3parse(p2)

	_, copyErr := c.CopyObject(&s3.CopyObjectInput{
		Bucket:     aws.String(bucket2),
		Key:        aws.String(key2),
		CopySource: aws.String(bucket1 + "/" + key1),
	})
	if copyErr != nil {
		return fmt.Errorf("s3fileRename: copy [%s] to [%s]: %v", p1, p2, copyErr)
	}

	return s3fileRemove(p1)
}

// s3dirList lists object names under the folder of path.
func s3dirList(path string) (string, []string, error) {
	c, err := s3client()
	if err != nil {
		return "", nil, err
	}

	slash := strings.LastIndexByte(path, '/')
	if slash < 0 {
		return "", nil, fmt.Errorf("s3dirList: missing bucket folder: [%s]", path)
	}
	dirname := path[:slash]
	bucket, key := s3parse(path)
	folder := key[:strings.LastIndexByte(key, '/')+1]

	var names []string

	listErr := c.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(folder),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			k := aws.StringValue(obj.Key)
			name := k[len(folder):]
			if strings.IndexByte(name, '/') >= 0 {
				continue // nested folder
			}
			names = append(names, name)
		}
		return true
	})
	if listErr != nil {
		return dirname, nil, fmt.Errorf("s3dirList: [%s]: %v", path, listErr)
	}

	return dirname, names, nil
}
